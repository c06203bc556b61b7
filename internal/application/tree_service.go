package application

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"idgov-engine/internal/domain"
	"idgov-engine/internal/ports"
)

// TreeNodeService maintains the organizational forest. Parent links are
// walked with visited-sets so malformed data surfaces as
// domain.ErrTreeCorrupted instead of an endless loop.
type TreeNodeService struct {
	nodes  ports.TreeNodeRepository
	logger ports.Logger
}

func NewTreeNodeService(nodes ports.TreeNodeRepository, logger ports.Logger) *TreeNodeService {
	return &TreeNodeService{nodes: nodes, logger: logger}
}

func (s *TreeNodeService) Create(ctx context.Context, node domain.TreeNode) (domain.TreeNode, error) {
	if node.TreeTypeID == "" || node.Name == "" {
		return domain.TreeNode{}, domain.ErrInvalidInput
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.ParentID != "" {
		parent, err := s.nodes.GetByID(ctx, node.ParentID)
		if err != nil {
			return domain.TreeNode{}, err
		}
		if parent.TreeTypeID != node.TreeTypeID {
			return domain.TreeNode{}, domain.ErrInvalidInput
		}
	}
	if err := s.nodes.Create(ctx, node); err != nil {
		return domain.TreeNode{}, err
	}
	return node, nil
}

// Update moves or renames a node. A parent change is rejected when the
// new parent sits inside the node's own subtree.
func (s *TreeNodeService) Update(ctx context.Context, node domain.TreeNode) error {
	if node.ID == "" {
		return domain.ErrInvalidInput
	}
	current, err := s.nodes.GetByID(ctx, node.ID)
	if err != nil {
		return err
	}
	if node.ParentID != "" && node.ParentID != current.ParentID {
		if node.ParentID == node.ID {
			return domain.ErrTreeCorrupted
		}
		ancestors, err := s.Ancestors(ctx, node.ParentID)
		if err != nil {
			return err
		}
		for _, ancestor := range ancestors {
			if ancestor == node.ID {
				return domain.ErrTreeCorrupted
			}
		}
	}
	return s.nodes.Update(ctx, node)
}

func (s *TreeNodeService) GetByID(ctx context.Context, nodeID string) (domain.TreeNode, error) {
	if nodeID == "" {
		return domain.TreeNode{}, domain.ErrInvalidInput
	}
	return s.nodes.GetByID(ctx, nodeID)
}

// Ancestors returns the parent chain of a node, nearest first. The node
// itself is not included.
func (s *TreeNodeService) Ancestors(ctx context.Context, nodeID string) ([]string, error) {
	visited := map[string]struct{}{nodeID: {}}
	var chain []string
	current := nodeID
	for {
		node, err := s.nodes.GetByID(ctx, current)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) && current != nodeID {
				// dangling parent pointer, treat the chain as ended
				return chain, nil
			}
			return nil, err
		}
		if node.ParentID == "" {
			return chain, nil
		}
		if _, seen := visited[node.ParentID]; seen {
			return nil, domain.ErrTreeCorrupted
		}
		visited[node.ParentID] = struct{}{}
		chain = append(chain, node.ParentID)
		current = node.ParentID
	}
}

// Descendants returns every node below the given one, breadth first.
func (s *TreeNodeService) Descendants(ctx context.Context, nodeID string) ([]string, error) {
	visited := map[string]struct{}{nodeID: {}}
	var result []string
	queue := []string{nodeID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := s.nodes.ListChildren(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				return nil, domain.ErrTreeCorrupted
			}
			visited[child.ID] = struct{}{}
			result = append(result, child.ID)
			queue = append(queue, child.ID)
		}
	}
	return result, nil
}
