package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"
	"idgov-engine/internal/domain"
)

type IdentityRoleRepository struct{ client *Client }

func NewIdentityRoleRepository(client *Client) *IdentityRoleRepository {
	return &IdentityRoleRepository{client: client}
}

func identityRoleItem(row domain.IdentityRole) map[string]any {
	return map[string]any{
		"PK":              iRolePK(row.ID),
		"SK":              metaSK(),
		"EntityType":      "IDENTITY_ROLE",
		"ID":              row.ID,
		"ContractID":      row.ContractID,
		"RoleID":          row.RoleID,
		"ValidFrom":       timeAttr(row.ValidFrom),
		"ValidTill":       timeAttr(row.ValidTill),
		"AutomaticRuleID": row.AutomaticRuleID,
		"DirectRoleID":    row.DirectRoleID,
	}
}

func unmarshalIdentityRole(item map[string]awsv2types.AttributeValue) (domain.IdentityRole, error) {
	raw := struct {
		ID              string `dynamodbav:"ID"`
		ContractID      string `dynamodbav:"ContractID"`
		RoleID          string `dynamodbav:"RoleID"`
		ValidFrom       string `dynamodbav:"ValidFrom"`
		ValidTill       string `dynamodbav:"ValidTill"`
		AutomaticRuleID string `dynamodbav:"AutomaticRuleID"`
		DirectRoleID    string `dynamodbav:"DirectRoleID"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.IdentityRole{}, err
	}
	return domain.IdentityRole{
		ID:              raw.ID,
		ContractID:      raw.ContractID,
		RoleID:          raw.RoleID,
		ValidFrom:       attrTime(raw.ValidFrom),
		ValidTill:       attrTime(raw.ValidTill),
		AutomaticRuleID: raw.AutomaticRuleID,
		DirectRoleID:    raw.DirectRoleID,
	}, nil
}

func (r *IdentityRoleRepository) GetByID(ctx context.Context, identityRoleID string) (domain.IdentityRole, error) {
	item, err := r.client.getMeta(ctx, "DynamoDB.GetIdentityRole", iRolePK(identityRoleID))
	if err != nil {
		return domain.IdentityRole{}, err
	}
	return unmarshalIdentityRole(item)
}

func (r *IdentityRoleRepository) ListByContract(ctx context.Context, contractID string) ([]domain.IdentityRole, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanIdentityRoles", "IDENTITY_ROLE")
	if err != nil {
		return nil, err
	}
	var rows []domain.IdentityRole
	for _, item := range items {
		row, err := unmarshalIdentityRole(item)
		if err != nil {
			return nil, err
		}
		if row.ContractID == contractID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (r *IdentityRoleRepository) ListByAutomaticRule(ctx context.Context, ruleID string) ([]domain.IdentityRole, error) {
	items, err := r.client.scanByEntityType(ctx, "DynamoDB.ScanIdentityRoles", "IDENTITY_ROLE")
	if err != nil {
		return nil, err
	}
	var rows []domain.IdentityRole
	for _, item := range items {
		row, err := unmarshalIdentityRole(item)
		if err != nil {
			return nil, err
		}
		if row.AutomaticRuleID == ruleID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ApplyChangeSet commits the batch with one TransactWriteItems call:
// creates are conditional on absence, updates and deletes on presence,
// so the whole correction lands atomically or not at all.
func (r *IdentityRoleRepository) ApplyChangeSet(ctx context.Context, changes domain.ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	var items []awsv2types.TransactWriteItem
	for _, row := range changes.Create {
		av, err := attributevalue.MarshalMap(identityRoleItem(row))
		if err != nil {
			return err
		}
		items = append(items, awsv2types.TransactWriteItem{
			Put: &awsv2types.Put{
				TableName:           aws.String(r.client.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
	}
	for _, row := range changes.Update {
		av, err := attributevalue.MarshalMap(identityRoleItem(row))
		if err != nil {
			return err
		}
		items = append(items, awsv2types.TransactWriteItem{
			Put: &awsv2types.Put{
				TableName:           aws.String(r.client.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_exists(PK)"),
			},
		})
	}
	for _, id := range changes.Delete {
		items = append(items, awsv2types.TransactWriteItem{
			Delete: &awsv2types.Delete{
				TableName: aws.String(r.client.tableName),
				Key: map[string]awsv2types.AttributeValue{
					"PK": &awsv2types.AttributeValueMemberS{Value: iRolePK(id)},
					"SK": &awsv2types.AttributeValueMemberS{Value: metaSK()},
				},
				ConditionExpression: aws.String("attribute_exists(PK)"),
			},
		})
	}
	return xray.Capture(ctx, "DynamoDB.ApplyIdentityRoleChangeSet", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrInvalidInput
		}
		return err
	})
}

type RoleRequestRepository struct{ client *Client }

func NewRoleRequestRepository(client *Client) *RoleRequestRepository {
	return &RoleRequestRepository{client: client}
}

func requestItem(request domain.RoleRequest) map[string]any {
	return map[string]any{
		"PK":                    requestPK(request.ID),
		"SK":                    metaSK(),
		"EntityType":            "ROLE_REQUEST",
		"ID":                    request.ID,
		"ApplicantID":           request.ApplicantID,
		"State":                 string(request.State),
		"Description":           request.Description,
		"ExecuteImmediately":    request.ExecuteImmediately,
		"RequestedByType":       request.RequestedByType,
		"DuplicatedToRequestID": request.DuplicatedToRequestID,
		"ResultCode":            string(request.ResultCode),
		"ResultMessage":         request.ResultMessage,
		"ContentHash":           request.ContentHash,
		"Created":               request.Created.UTC().Format(time.RFC3339),
		"Modified":              request.Modified.UTC().Format(time.RFC3339),
	}
}

func unmarshalRequest(item map[string]awsv2types.AttributeValue) (domain.RoleRequest, error) {
	raw := struct {
		ID                    string `dynamodbav:"ID"`
		ApplicantID           string `dynamodbav:"ApplicantID"`
		State                 string `dynamodbav:"State"`
		Description           string `dynamodbav:"Description"`
		ExecuteImmediately    bool   `dynamodbav:"ExecuteImmediately"`
		RequestedByType       string `dynamodbav:"RequestedByType"`
		DuplicatedToRequestID string `dynamodbav:"DuplicatedToRequestID"`
		ResultCode            string `dynamodbav:"ResultCode"`
		ResultMessage         string `dynamodbav:"ResultMessage"`
		ContentHash           string `dynamodbav:"ContentHash"`
		Created               string `dynamodbav:"Created"`
		Modified              string `dynamodbav:"Modified"`
	}{}
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return domain.RoleRequest{}, err
	}
	request := domain.RoleRequest{
		ID:                    raw.ID,
		ApplicantID:           raw.ApplicantID,
		State:                 domain.RequestState(raw.State),
		Description:           raw.Description,
		ExecuteImmediately:    raw.ExecuteImmediately,
		RequestedByType:       raw.RequestedByType,
		DuplicatedToRequestID: raw.DuplicatedToRequestID,
		ResultCode:            domain.ResultCode(raw.ResultCode),
		ResultMessage:         raw.ResultMessage,
		ContentHash:           raw.ContentHash,
	}
	if created := attrTime(raw.Created); created != nil {
		request.Created = *created
	}
	if modified := attrTime(raw.Modified); modified != nil {
		request.Modified = *modified
	}
	return request, nil
}

// Save replaces the request item and its owned concept items in one
// transaction. Stale concepts are deleted first, mirroring the cascade
// ownership of the request over its concepts.
func (r *RoleRequestRepository) Save(ctx context.Context, request domain.RoleRequest, concepts []domain.ConceptRoleRequest) error {
	existing, err := r.ListConcepts(ctx, request.ID)
	if err != nil {
		return err
	}
	keep := map[string]struct{}{}
	for _, concept := range concepts {
		keep[concept.ID] = struct{}{}
	}

	var items []awsv2types.TransactWriteItem
	requestAV, err := attributevalue.MarshalMap(requestItem(request))
	if err != nil {
		return err
	}
	items = append(items, awsv2types.TransactWriteItem{
		Put: &awsv2types.Put{TableName: aws.String(r.client.tableName), Item: requestAV},
	})
	for _, concept := range existing {
		if _, kept := keep[concept.ID]; kept {
			continue
		}
		items = append(items, awsv2types.TransactWriteItem{
			Delete: &awsv2types.Delete{
				TableName: aws.String(r.client.tableName),
				Key: map[string]awsv2types.AttributeValue{
					"PK": &awsv2types.AttributeValueMemberS{Value: requestPK(request.ID)},
					"SK": &awsv2types.AttributeValueMemberS{Value: conceptSK(concept.ID)},
				},
			},
		})
	}
	for _, concept := range concepts {
		av, err := attributevalue.MarshalMap(map[string]any{
			"PK":             requestPK(request.ID),
			"SK":             conceptSK(concept.ID),
			"EntityType":     "CONCEPT_ROLE_REQUEST",
			"ID":             concept.ID,
			"RoleRequestID":  request.ID,
			"Operation":      string(concept.Operation),
			"RoleID":         concept.RoleID,
			"ContractID":     concept.ContractID,
			"IdentityRoleID": concept.IdentityRoleID,
			"ValidFrom":      timeAttr(concept.ValidFrom),
			"ValidTill":      timeAttr(concept.ValidTill),
		})
		if err != nil {
			return err
		}
		items = append(items, awsv2types.TransactWriteItem{
			Put: &awsv2types.Put{TableName: aws.String(r.client.tableName), Item: av},
		})
	}
	return xray.Capture(ctx, "DynamoDB.SaveRoleRequest", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		return err
	})
}

func (r *RoleRequestRepository) GetByID(ctx context.Context, requestID string) (domain.RoleRequest, error) {
	item, err := r.client.getMeta(ctx, "DynamoDB.GetRoleRequest", requestPK(requestID))
	if err != nil {
		return domain.RoleRequest{}, err
	}
	return unmarshalRequest(item)
}

func (r *RoleRequestRepository) ListConcepts(ctx context.Context, requestID string) ([]domain.ConceptRoleRequest, error) {
	var out *awsv2dynamodb.QueryOutput
	err := xray.Capture(ctx, "DynamoDB.QueryConcepts", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, &awsv2dynamodb.QueryInput{
			TableName:              aws.String(r.client.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":pk": &awsv2types.AttributeValueMemberS{Value: requestPK(requestID)},
				":sk": &awsv2types.AttributeValueMemberS{Value: "CONCEPT#"},
			},
		})
		return e
	})
	if err != nil {
		return nil, err
	}
	concepts := make([]domain.ConceptRoleRequest, 0, len(out.Items))
	for _, item := range out.Items {
		raw := struct {
			ID             string `dynamodbav:"ID"`
			RoleRequestID  string `dynamodbav:"RoleRequestID"`
			Operation      string `dynamodbav:"Operation"`
			RoleID         string `dynamodbav:"RoleID"`
			ContractID     string `dynamodbav:"ContractID"`
			IdentityRoleID string `dynamodbav:"IdentityRoleID"`
			ValidFrom      string `dynamodbav:"ValidFrom"`
			ValidTill      string `dynamodbav:"ValidTill"`
		}{}
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		concepts = append(concepts, domain.ConceptRoleRequest{
			ID:             raw.ID,
			RoleRequestID:  raw.RoleRequestID,
			Operation:      domain.ConceptOperation(raw.Operation),
			RoleID:         raw.RoleID,
			ContractID:     raw.ContractID,
			IdentityRoleID: raw.IdentityRoleID,
			ValidFrom:      attrTime(raw.ValidFrom),
			ValidTill:      attrTime(raw.ValidTill),
		})
	}
	return concepts, nil
}

func (r *RoleRequestRepository) UpdateState(ctx context.Context, request domain.RoleRequest) error {
	av, err := attributevalue.MarshalMap(requestItem(request))
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.UpdateRoleRequest", func(ctx context.Context) error {
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

// ClaimExecution takes the (applicant, content-hash) duplicate guard
// with a conditional put. Losing the race surfaces the current holder's
// request id so the caller can mark itself DUPLICATED against it.
func (r *RoleRequestRepository) ClaimExecution(ctx context.Context, applicantID, contentHash, requestID string) (string, error) {
	err := xray.Capture(ctx, "DynamoDB.ClaimExecution", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: aws.String(r.client.tableName),
			Item: map[string]awsv2types.AttributeValue{
				"PK":         &awsv2types.AttributeValueMemberS{Value: claimPK(applicantID)},
				"SK":         &awsv2types.AttributeValueMemberS{Value: "HASH#" + contentHash},
				"EntityType": &awsv2types.AttributeValueMemberS{Value: "REQUEST_CLAIM"},
				"RequestID":  &awsv2types.AttributeValueMemberS{Value: requestID},
			},
			ConditionExpression: aws.String("attribute_not_exists(PK) OR RequestID = :rid"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":rid": &awsv2types.AttributeValueMemberS{Value: requestID},
			},
		})
		return err
	})
	if err == nil {
		return requestID, nil
	}
	if !isConditionalCheckFailure(err) {
		return "", err
	}
	var out *awsv2dynamodb.GetItemOutput
	getErr := xray.Capture(ctx, "DynamoDB.GetExecutionClaim", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: claimPK(applicantID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: "HASH#" + contentHash},
			},
		})
		return e
	})
	if getErr != nil {
		return "", getErr
	}
	holder := ""
	if out.Item != nil {
		raw := struct {
			RequestID string `dynamodbav:"RequestID"`
		}{}
		if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
			return "", err
		}
		holder = raw.RequestID
	}
	return holder, domain.ErrExecutionClaimed
}

func (r *RoleRequestRepository) ReleaseExecution(ctx context.Context, applicantID, contentHash string) error {
	return xray.Capture(ctx, "DynamoDB.ReleaseExecutionClaim", func(ctx context.Context) error {
		_, err := r.client.db.DeleteItem(ctx, &awsv2dynamodb.DeleteItemInput{
			TableName: aws.String(r.client.tableName),
			Key: map[string]awsv2types.AttributeValue{
				"PK": &awsv2types.AttributeValueMemberS{Value: claimPK(applicantID)},
				"SK": &awsv2types.AttributeValueMemberS{Value: "HASH#" + contentHash},
			},
		})
		return err
	})
}
