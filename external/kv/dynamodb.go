package kv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/foxseedlab/pokerbot/internal/kv"
)

const (
	dynamoAttrPK  = "PK"
	dynamoAttrSK  = "SK"
	dynamoAttrTTL = "ttlEpoch"
)

// DynamoAPI is the subset of the DynamoDB client the store calls.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore maps the keyspace onto a single DynamoDB table with string
// keys PK and SK and TTL enabled on ttlEpoch. DynamoDB deletes expired items
// lazily, so every condition and read also checks ttlEpoch itself.
type DynamoStore struct {
	api   DynamoAPI
	table string
	now   func() time.Time
}

func NewDynamoStore(api DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{api: api, table: table, now: time.Now}
}

func (s *DynamoStore) Put(ctx context.Context, item kv.Item, cond *kv.Condition) error {
	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      marshalDynamoItem(item),
	}
	if expr := s.conditionExpression(cond); expr != nil {
		in.ConditionExpression = aws.String(expr.text)
		in.ExpressionAttributeNames = expr.names
		in.ExpressionAttributeValues = expr.values
	}
	if _, err := s.api.PutItem(ctx, in); err != nil {
		return classifyDynamoError(err, []kv.Op{kv.PutOp(item, cond)})
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, key kv.Key) (*kv.Item, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            marshalDynamoKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classifyDynamoError(err, nil)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	it, err := unmarshalDynamoItem(out.Item)
	if err != nil {
		return nil, err
	}
	if it.Expired(s.now()) {
		return nil, nil
	}
	return &it, nil
}

func (s *DynamoStore) Query(ctx context.Context, pk, skPrefix string) ([]kv.Item, error) {
	in := &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": dynamoAttrPK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	}
	if skPrefix != "" {
		in.KeyConditionExpression = aws.String("#pk = :pk AND begins_with(#sk, :sk)")
		in.ExpressionAttributeNames["#sk"] = dynamoAttrSK
		in.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	now := s.now()
	var list []kv.Item
	p := dynamodb.NewQueryPaginator(s.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classifyDynamoError(err, nil)
		}
		for _, raw := range page.Items {
			it, err := unmarshalDynamoItem(raw)
			if err != nil {
				return nil, err
			}
			if it.Expired(now) {
				continue
			}
			list = append(list, it)
		}
	}
	return list, nil
}

func (s *DynamoStore) Transact(ctx context.Context, ops []kv.Op) error {
	if err := kv.ValidateTransact(ops); err != nil {
		return err
	}
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		twi, err := s.transactItem(op)
		if err != nil {
			return err
		}
		items = append(items, twi)
	}
	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return classifyDynamoError(err, ops)
	}
	return nil
}

func (s *DynamoStore) transactItem(op kv.Op) (types.TransactWriteItem, error) {
	expr := s.conditionExpression(op.Condition)
	switch op.Kind {
	case kv.OpPut:
		put := &types.Put{TableName: aws.String(s.table), Item: marshalDynamoItem(op.Item)}
		if expr != nil {
			put.ConditionExpression = aws.String(expr.text)
			put.ExpressionAttributeNames = expr.names
			put.ExpressionAttributeValues = expr.values
		}
		return types.TransactWriteItem{Put: put}, nil
	case kv.OpUpdate:
		if len(op.Set) == 0 {
			return types.TransactWriteItem{}, fmt.Errorf("kv: update of %s sets no attributes", op.Key)
		}
		if expr == nil {
			expr = &dynamoExpression{names: map[string]string{}, values: map[string]types.AttributeValue{}}
		}
		update := &types.Update{
			TableName:        aws.String(s.table),
			Key:              marshalDynamoKey(op.Key),
			UpdateExpression: aws.String(expr.addSet(op.Set)),
		}
		if expr.text != "" {
			update.ConditionExpression = aws.String(expr.text)
		}
		update.ExpressionAttributeNames = expr.names
		update.ExpressionAttributeValues = expr.values
		return types.TransactWriteItem{Update: update}, nil
	case kv.OpDelete:
		del := &types.Delete{TableName: aws.String(s.table), Key: marshalDynamoKey(op.Key)}
		if expr != nil {
			del.ConditionExpression = aws.String(expr.text)
			del.ExpressionAttributeNames = expr.names
			del.ExpressionAttributeValues = expr.values
		}
		return types.TransactWriteItem{Delete: del}, nil
	default:
		return types.TransactWriteItem{}, fmt.Errorf("kv: unsupported op kind %s", op.Kind)
	}
}

type dynamoExpression struct {
	text   string
	names  map[string]string
	values map[string]types.AttributeValue
}

// conditionExpression renders cond so that expired items count as absent.
func (s *DynamoStore) conditionExpression(cond *kv.Condition) *dynamoExpression {
	if cond == nil || cond.Kind == kv.ConditionNone {
		return nil
	}
	e := &dynamoExpression{
		names: map[string]string{"#pk": dynamoAttrPK, "#ttl": dynamoAttrTTL},
		values: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	}
	const live = "(attribute_not_exists(#ttl) OR #ttl > :now)"
	switch cond.Kind {
	case kv.ConditionNotExists:
		e.text = "attribute_not_exists(#pk) OR #ttl <= :now"
	case kv.ConditionExists:
		e.text = "attribute_exists(#pk) AND " + live
	case kv.ConditionAttrEquals:
		delete(e.names, "#pk")
		e.names["#cattr"] = cond.Attr
		e.values[":cval"] = &types.AttributeValueMemberS{Value: cond.Value}
		e.text = "#cattr = :cval AND " + live
	}
	return e
}

// addSet registers the placeholders for set and returns the SET clause.
// Attributes are emitted in name order so the expression is deterministic.
func (e *dynamoExpression) addSet(set map[string]string) string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	slices.Sort(names)
	clause := "SET "
	for i, name := range names {
		n := "#s" + strconv.Itoa(i)
		v := ":s" + strconv.Itoa(i)
		e.names[n] = name
		e.values[v] = &types.AttributeValueMemberS{Value: set[name]}
		if i > 0 {
			clause += ", "
		}
		clause += n + " = " + v
	}
	return clause
}

func marshalDynamoKey(key kv.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoAttrPK: &types.AttributeValueMemberS{Value: key.PK},
		dynamoAttrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

func marshalDynamoItem(item kv.Item) map[string]types.AttributeValue {
	av := marshalDynamoKey(item.Key)
	for name, value := range item.Attrs {
		av[name] = &types.AttributeValueMemberS{Value: value}
	}
	if item.ExpiresAt > 0 {
		av[dynamoAttrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(item.ExpiresAt, 10)}
	}
	return av
}

func unmarshalDynamoItem(av map[string]types.AttributeValue) (kv.Item, error) {
	it := kv.Item{Attrs: make(map[string]string, len(av))}
	for name, value := range av {
		switch name {
		case dynamoAttrPK, dynamoAttrSK:
			s, ok := value.(*types.AttributeValueMemberS)
			if !ok {
				return kv.Item{}, fmt.Errorf("kv: key attribute %s is not a string", name)
			}
			if name == dynamoAttrPK {
				it.PK = s.Value
			} else {
				it.SK = s.Value
			}
		case dynamoAttrTTL:
			n, ok := value.(*types.AttributeValueMemberN)
			if !ok {
				return kv.Item{}, fmt.Errorf("kv: %s is not a number", name)
			}
			epoch, err := strconv.ParseInt(n.Value, 10, 64)
			if err != nil {
				return kv.Item{}, fmt.Errorf("kv: parse %s: %w", name, err)
			}
			it.ExpiresAt = epoch
		default:
			if s, ok := value.(*types.AttributeValueMemberS); ok {
				it.Attrs[name] = s.Value
			}
		}
	}
	return it, nil
}

// classifyDynamoError maps SDK errors onto the kv error kinds. ops is the
// submitted write set, used to resolve cancellation reasons to op indexes.
func classifyDynamoError(err error, ops []kv.Op) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		cf := &kv.ConditionFailedError{}
		if len(ops) > 0 {
			cf.Key = ops[0].Key
		}
		return cf
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				cf := &kv.ConditionFailedError{Index: i}
				if i < len(ops) {
					cf.Key = ops[i].Key
				}
				return cf
			}
		}
		// Cancelled for TransactionConflict, ThrottlingError and similar.
		return kv.Transient(err)
	}

	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		conflict   *types.TransactionConflictException
		inProgress *types.TransactionInProgressException
		netErr     net.Error
	)
	switch {
	case errors.As(err, &throughput), errors.As(err, &limit), errors.As(err, &internal),
		errors.As(err, &conflict), errors.As(err, &inProgress), errors.As(err, &netErr):
		return kv.Transient(err)
	}
	return err
}
