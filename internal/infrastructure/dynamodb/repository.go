package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awsv2xray "github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"github.com/aws/aws-xray-sdk-go/xray"
	"idgov-engine/internal/domain"
)

type Client struct {
	db        *awsv2dynamodb.Client
	tableName string
}

func NewClient(ctx context.Context, region, tableName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	awsv2xray.AWSV2Instrumentor(&cfg.APIOptions)
	client := awsv2dynamodb.NewFromConfig(cfg)
	return &Client{db: client, tableName: tableName}, nil
}

func identityPK(id string) string { return "IDENTITY#" + id }
func rolePK(id string) string     { return "ROLE#" + id }
func rcompPK(id string) string    { return "RCOMP#" + id }
func incompPK(id string) string   { return "INCOMP#" + id }
func treePK(id string) string     { return "TREE#" + id }
func rulePK(id string) string     { return "ARULE#" + id }
func contractPK(id string) string { return "CONTRACT#" + id }
func iRolePK(id string) string    { return "IROLE#" + id }
func requestPK(id string) string  { return "REQ#" + id }
func claimPK(id string) string    { return "REQCLAIM#" + id }
func conceptSK(id string) string  { return "CONCEPT#" + id }
func metaSK() string              { return "META" }

func isConditionalCheckFailure(err error) bool {
	var condErr *awsv2types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var cancel *awsv2types.TransactionCanceledException
	if errors.As(err, &cancel) {
		for _, reason := range cancel.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

func timeAttr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func attrTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &parsed
}

func (c *Client) putMeta(ctx context.Context, segment string, item map[string]any, mustNotExist bool) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	input := &awsv2dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      av,
	}
	if mustNotExist {
		input.ConditionExpression = aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)")
	}
	return xray.Capture(ctx, segment, func(ctx context.Context) error {
		_, err := c.db.PutItem(ctx, input)
		if mustNotExist && isConditionalCheckFailure(err) {
			return domain.ErrInvalidInput
		}
		return err
	})
}

func (c *Client) getMeta(ctx context.Context, segment, pk string) (map[string]awsv2types.AttributeValue, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, segment, func(ctx context.Context) error {
		var e error
		out, e = c.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(c.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: pk},
				"SK": &awsv2types.AttributeValueMemberS{Value: metaSK()},
			},
		})
		return e
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, domain.ErrNotFound
	}
	return out.Item, nil
}

func (c *Client) deleteMeta(ctx context.Context, segment, pk string) error {
	return xray.Capture(ctx, segment, func(ctx context.Context) error {
		_, err := c.db.DeleteItem(ctx, &awsv2dynamodb.DeleteItemInput{
			TableName: aws.String(c.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: pk},
				"SK": &awsv2types.AttributeValueMemberS{Value: metaSK()},
			},
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return err
	})
}

// scanByEntityType pages through the table filtering on the EntityType
// attribute. The graph entities are configuration-scale, a filtered
// scan keeps the table free of index bookkeeping.
func (c *Client) scanByEntityType(ctx context.Context, segment, entityType string) ([]map[string]awsv2types.AttributeValue, error) {
	var items []map[string]awsv2types.AttributeValue
	err := xray.Capture(ctx, segment, func(ctx context.Context) error {
		var startKey map[string]awsv2types.AttributeValue
		for {
			out, err := c.db.Scan(ctx, &awsv2dynamodb.ScanInput{
				TableName:        aws.String(c.tableName),
				FilterExpression: aws.String("EntityType = :t"),
				ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
					":t": &awsv2types.AttributeValueMemberS{Value: entityType},
				},
				ExclusiveStartKey: startKey,
			})
			if err != nil {
				return err
			}
			items = append(items, out.Items...)
			if out.LastEvaluatedKey == nil {
				return nil
			}
			startKey = out.LastEvaluatedKey
		}
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

type IdentityRepository struct{ client *Client }

func NewIdentityRepository(client *Client) *IdentityRepository {
	return &IdentityRepository{client: client}
}

func (r *IdentityRepository) Save(ctx context.Context, identity domain.Identity) error {
	return r.client.putMeta(ctx, "DynamoDB.PutIdentity", map[string]any{
		"PK":         identityPK(identity.ID),
		"SK":         metaSK(),
		"EntityType": "IDENTITY",
		"ID":         identity.ID,
		"Username":   identity.Username,
		"Disabled":   identity.Disabled,
	}, false)
}

func (r *IdentityRepository) GetByID(ctx context.Context, identityID string) (domain.Identity, error) {
	item, err := r.client.getMeta(ctx, "DynamoDB.GetIdentity", identityPK(identityID))
	if err != nil {
		return domain.Identity{}, err
	}
	raw := struct {
		ID       string `dynamodbav:"ID"`
		Username string `dynamodbav:"Username"`
		Disabled bool   `dynamodbav:"Disabled"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{ID: raw.ID, Username: raw.Username, Disabled: raw.Disabled}, nil
}

type RoleRepository struct{ client *Client }

func NewRoleRepository(client *Client) *RoleRepository {
	return &RoleRepository{client: client}
}

func roleItem(role domain.Role) map[string]any {
	return map[string]any{
		"PK":             rolePK(role.ID),
		"SK":             metaSK(),
		"EntityType":     "ROLE",
		"ID":             role.ID,
		"Code":           role.Code,
		"Name":           role.Name,
		"Description":    role.Description,
		"Priority":       role.Priority,
		"CanBeRequested": role.CanBeRequested,
		"CreatedAt":      role.CreatedAt.Format(time.RFC3339),
		"UpdatedAt":      role.UpdatedAt.Format(time.RFC3339),
	}
}

func unmarshalRole(item map[string]awsv2types.AttributeValue) (domain.Role, error) {
	raw := struct {
		ID             string `dynamodbav:"ID"`
		Code           string `dynamodbav:"Code"`
		Name           string `dynamodbav:"Name"`
		Description    string `dynamodbav:"Description"`
		Priority       int    `dynamodbav:"Priority"`
		CanBeRequested bool   `dynamodbav:"CanBeRequested"`
		CreatedAt      string `dynamodbav:"CreatedAt"`
		UpdatedAt      string `dynamodbav:"UpdatedAt"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.Role{}, err
	}
	createdAt, _ := time.Parse(time.RFC3339, raw.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, raw.UpdatedAt)
	return domain.Role{
		ID:             raw.ID,
		Code:           raw.Code,
		Name:           raw.Name,
		Description:    raw.Description,
		Priority:       raw.Priority,
		CanBeRequested: raw.CanBeRequested,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

func (r *RoleRepository) Create(ctx context.Context, role domain.Role) error {
	return r.client.putMeta(ctx, "DynamoDB.PutRole", roleItem(role), true)
}

func (r *RoleRepository) Update(ctx context.Context, role domain.Role) error {
	av, err := attributevalue.MarshalMap(roleItem(role))
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.UpdateRole", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName:           aws.String(r.client.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return err
	})
}

func (r *RoleRepository) GetByID(ctx context.Context, roleID string) (domain.Role, error) {
	item, err := r.client.getMeta(ctx, "DynamoDB.GetRole", rolePK(roleID))
	if err != nil {
		return domain.Role{}, err
	}
	return unmarshalRole(item)
}

func (r *RoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanRoles", "ROLE")
	if err != nil {
		return nil, err
	}
	roles := make([]domain.Role, 0, len(items))
	for _, item := range items {
		role, err := unmarshalRole(item)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

type RoleCompositionRepository struct{ client *Client }

func NewRoleCompositionRepository(client *Client) *RoleCompositionRepository {
	return &RoleCompositionRepository{client: client}
}

func (r *RoleCompositionRepository) Create(ctx context.Context, composition domain.RoleComposition) error {
	return r.client.putMeta(ctx, "DynamoDB.PutRoleComposition", map[string]any{
		"PK":             rcompPK(composition.ID),
		"SK":             metaSK(),
		"EntityType":     "ROLE_COMPOSITION",
		"ID":             composition.ID,
		"SuperiorRoleID": composition.SuperiorRoleID,
		"SubRoleID":      composition.SubRoleID,
	}, true)
}

func (r *RoleCompositionRepository) Delete(ctx context.Context, compositionID string) error {
	return r.client.deleteMeta(ctx, "DynamoDB.DeleteRoleComposition", rcompPK(compositionID))
}

func unmarshalComposition(item map[string]awsv2types.AttributeValue) (domain.RoleComposition, error) {
	raw := struct {
		ID             string `dynamodbav:"ID"`
		SuperiorRoleID string `dynamodbav:"SuperiorRoleID"`
		SubRoleID      string `dynamodbav:"SubRoleID"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.RoleComposition{}, err
	}
	return domain.RoleComposition{ID: raw.ID, SuperiorRoleID: raw.SuperiorRoleID, SubRoleID: raw.SubRoleID}, nil
}

func (r *RoleCompositionRepository) ListBySuperior(ctx context.Context, roleID string) ([]domain.RoleComposition, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	edges := make([]domain.RoleComposition, 0, len(all))
	for _, edge := range all {
		if edge.SuperiorRoleID == roleID {
			edges = append(edges, edge)
		}
	}
	return edges, nil
}

func (r *RoleCompositionRepository) List(ctx context.Context) ([]domain.RoleComposition, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanRoleCompositions", "ROLE_COMPOSITION")
	if err != nil {
		return nil, err
	}
	edges := make([]domain.RoleComposition, 0, len(items))
	for _, item := range items {
		edge, err := unmarshalComposition(item)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

type IncompatibleRoleRepository struct{ client *Client }

func NewIncompatibleRoleRepository(client *Client) *IncompatibleRoleRepository {
	return &IncompatibleRoleRepository{client: client}
}

func (r *IncompatibleRoleRepository) Create(ctx context.Context, pair domain.IncompatibleRole) error {
	return r.client.putMeta(ctx, "DynamoDB.PutIncompatibleRole", map[string]any{
		"PK":             incompPK(pair.ID),
		"SK":             metaSK(),
		"EntityType":     "INCOMPATIBLE_ROLE",
		"ID":             pair.ID,
		"SuperiorRoleID": pair.SuperiorRoleID,
		"SubRoleID":      pair.SubRoleID,
	}, true)
}

func (r *IncompatibleRoleRepository) Delete(ctx context.Context, pairID string) error {
	return r.client.deleteMeta(ctx, "DynamoDB.DeleteIncompatibleRole", incompPK(pairID))
}

func (r *IncompatibleRoleRepository) List(ctx context.Context) ([]domain.IncompatibleRole, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanIncompatibleRoles", "INCOMPATIBLE_ROLE")
	if err != nil {
		return nil, err
	}
	pairs := make([]domain.IncompatibleRole, 0, len(items))
	for _, item := range items {
		raw := struct {
			ID             string `dynamodbav:"ID"`
			SuperiorRoleID string `dynamodbav:"SuperiorRoleID"`
			SubRoleID      string `dynamodbav:"SubRoleID"`
		}{}
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.IncompatibleRole{ID: raw.ID, SuperiorRoleID: raw.SuperiorRoleID, SubRoleID: raw.SubRoleID})
	}
	return pairs, nil
}

type TreeNodeRepository struct{ client *Client }

func NewTreeNodeRepository(client *Client) *TreeNodeRepository {
	return &TreeNodeRepository{client: client}
}

func treeNodeItem(node domain.TreeNode) map[string]any {
	return map[string]any{
		"PK":         treePK(node.ID),
		"SK":         metaSK(),
		"EntityType": "TREE_NODE",
		"ID":         node.ID,
		"ParentID":   node.ParentID,
		"TreeTypeID": node.TreeTypeID,
		"Name":       node.Name,
	}
}

func unmarshalTreeNode(item map[string]awsv2types.AttributeValue) (domain.TreeNode, error) {
	raw := struct {
		ID         string `dynamodbav:"ID"`
		ParentID   string `dynamodbav:"ParentID"`
		TreeTypeID string `dynamodbav:"TreeTypeID"`
		Name       string `dynamodbav:"Name"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.TreeNode{}, err
	}
	return domain.TreeNode{ID: raw.ID, ParentID: raw.ParentID, TreeTypeID: raw.TreeTypeID, Name: raw.Name}, nil
}

func (r *TreeNodeRepository) Create(ctx context.Context, node domain.TreeNode) error {
	return r.client.putMeta(ctx, "DynamoDB.PutTreeNode", treeNodeItem(node), true)
}

func (r *TreeNodeRepository) Update(ctx context.Context, node domain.TreeNode) error {
	av, err := attributevalue.MarshalMap(treeNodeItem(node))
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.UpdateTreeNode", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName:           aws.String(r.client.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return err
	})
}

func (r *TreeNodeRepository) GetByID(ctx context.Context, nodeID string) (domain.TreeNode, error) {
	item, err := r.client.getMeta(ctx, "DynamoDB.GetTreeNode", treePK(nodeID))
	if err != nil {
		return domain.TreeNode{}, err
	}
	return unmarshalTreeNode(item)
}

func (r *TreeNodeRepository) ListChildren(ctx context.Context, nodeID string) ([]domain.TreeNode, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanTreeNodes", "TREE_NODE")
	if err != nil {
		return nil, err
	}
	var children []domain.TreeNode
	for _, item := range items {
		node, err := unmarshalTreeNode(item)
		if err != nil {
			return nil, err
		}
		if node.ParentID == nodeID {
			children = append(children, node)
		}
	}
	return children, nil
}

type AutomaticRoleRuleRepository struct{ client *Client }

func NewAutomaticRoleRuleRepository(client *Client) *AutomaticRoleRuleRepository {
	return &AutomaticRoleRuleRepository{client: client}
}

func (r *AutomaticRoleRuleRepository) Create(ctx context.Context, rule domain.AutomaticRoleRule) error {
	return r.client.putMeta(ctx, "DynamoDB.PutAutomaticRoleRule", map[string]any{
		"PK":         rulePK(rule.ID),
		"SK":         metaSK(),
		"EntityType": "AUTOMATIC_ROLE_RULE",
		"ID":         rule.ID,
		"RoleID":     rule.RoleID,
		"TreeNodeID": rule.TreeNodeID,
		"Recursion":  string(rule.Recursion),
	}, true)
}

func (r *AutomaticRoleRuleRepository) Delete(ctx context.Context, ruleID string) error {
	return r.client.deleteMeta(ctx, "DynamoDB.DeleteAutomaticRoleRule", rulePK(ruleID))
}

func unmarshalRule(item map[string]awsv2types.AttributeValue) (domain.AutomaticRoleRule, error) {
	raw := struct {
		ID         string `dynamodbav:"ID"`
		RoleID     string `dynamodbav:"RoleID"`
		TreeNodeID string `dynamodbav:"TreeNodeID"`
		Recursion  string `dynamodbav:"Recursion"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.AutomaticRoleRule{}, err
	}
	return domain.AutomaticRoleRule{ID: raw.ID, RoleID: raw.RoleID, TreeNodeID: raw.TreeNodeID, Recursion: domain.RecursionType(raw.Recursion)}, nil
}

func (r *AutomaticRoleRuleRepository) GetByID(ctx context.Context, ruleID string) (domain.AutomaticRoleRule, error) {
	item, err := r.client.getMeta(ctx, "DynamoDB.GetAutomaticRoleRule", rulePK(ruleID))
	if err != nil {
		return domain.AutomaticRoleRule{}, err
	}
	return unmarshalRule(item)
}

func (r *AutomaticRoleRuleRepository) List(ctx context.Context) ([]domain.AutomaticRoleRule, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanAutomaticRoleRules", "AUTOMATIC_ROLE_RULE")
	if err != nil {
		return nil, err
	}
	rules := make([]domain.AutomaticRoleRule, 0, len(items))
	for _, item := range items {
		rule, err := unmarshalRule(item)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type ContractRepository struct{ client *Client }

func NewContractRepository(client *Client) *ContractRepository {
	return &ContractRepository{client: client}
}

func unmarshalContract(item map[string]awsv2types.AttributeValue) (domain.IdentityContract, error) {
	raw := struct {
		ID         string `dynamodbav:"ID"`
		IdentityID string `dynamodbav:"IdentityID"`
		TreeNodeID string `dynamodbav:"TreeNodeID"`
		ValidFrom  string `dynamodbav:"ValidFrom"`
		ValidTill  string `dynamodbav:"ValidTill"`
		Main       bool   `dynamodbav:"Main"`
		Disabled   bool   `dynamodbav:"Disabled"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.IdentityContract{}, err
	}
	return domain.IdentityContract{
		ID:         raw.ID,
		IdentityID: raw.IdentityID,
		TreeNodeID: raw.TreeNodeID,
		ValidFrom:  attrTime(raw.ValidFrom),
		ValidTill:  attrTime(raw.ValidTill),
		Main:       raw.Main,
		Disabled:   raw.Disabled,
	}, nil
}

func (r *ContractRepository) Save(ctx context.Context, contract domain.IdentityContract) error {
	return r.client.putMeta(ctx, "DynamoDB.PutContract", map[string]any{
		"PK":         contractPK(contract.ID),
		"SK":         metaSK(),
		"EntityType": "CONTRACT",
		"ID":         contract.ID,
		"IdentityID": contract.IdentityID,
		"TreeNodeID": contract.TreeNodeID,
		"ValidFrom":  timeAttr(contract.ValidFrom),
		"ValidTill":  timeAttr(contract.ValidTill),
		"Main":       contract.Main,
		"Disabled":   contract.Disabled,
	}, false)
}

func (r *ContractRepository) GetByID(ctx context.Context, contractID string) (domain.IdentityContract, error) {
	item, err := r.client.getMeta(ctx, "DynamoDB.GetContract", contractPK(contractID))
	if err != nil {
		return domain.IdentityContract{}, err
	}
	return unmarshalContract(item)
}

func (r *ContractRepository) ListByIdentity(ctx context.Context, identityID string) ([]domain.IdentityContract, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanContracts", "CONTRACT")
	if err != nil {
		return nil, err
	}
	var contracts []domain.IdentityContract
	for _, item := range items {
		contract, err := unmarshalContract(item)
		if err != nil {
			return nil, err
		}
		if contract.IdentityID == identityID {
			contracts = append(contracts, contract)
		}
	}
	return contracts, nil
}

func (r *ContractRepository) ListByTreeNode(ctx context.Context, nodeID string) ([]domain.IdentityContract, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanContracts", "CONTRACT")
	if err != nil {
		return nil, err
	}
	var contracts []domain.IdentityContract
	for _, item := range items {
		contract, err := unmarshalContract(item)
		if err != nil {
			return nil, err
		}
		if contract.TreeNodeID == nodeID {
			contracts = append(contracts, contract)
		}
	}
	return contracts, nil
}
