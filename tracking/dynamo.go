package tracking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/reid/codec"
)

// ErrEpochExists is returned when an epoch of a run was already recorded.
var ErrEpochExists = errors.New("epoch already recorded")

// DynamoClient is the subset of the DynamoDB API used by DynamoSink.
type DynamoClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// paramsEpoch is the sort key of the parameters item.
const paramsEpoch = -1

// DynamoSink records runs in a DynamoDB table so that runs on several
// machines share one history.
//
// Table schema:
//   - Partition key: run (string)
//   - Sort key: epoch (number), -1 for the parameters item
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name reid-runs \
//	  --attribute-definitions AttributeName=run,AttributeType=S AttributeName=epoch,AttributeType=N \
//	  --key-schema AttributeName=run,KeyType=HASH AttributeName=epoch,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DynamoSink struct {
	client DynamoClient
	table  string
	json   codec.GoJSON
}

// NewDynamoSink creates a DynamoSink writing to table.
func NewDynamoSink(client DynamoClient, table string) *DynamoSink {
	return &DynamoSink{client: client, table: table}
}

func number(f float64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'g', -1, 64)}
}

func integer(i int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(i, 10)}
}

func (s *DynamoSink) put(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#epoch)"),
		ExpressionAttributeNames: map[string]string{"#epoch": "epoch"},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrEpochExists
	}
	return err
}

// LogParams stores p as a JSON document.
func (s *DynamoSink) LogParams(ctx context.Context, run string, p Params) error {
	doc, err := s.json.Marshal(p)
	if err != nil {
		return err
	}
	return s.put(ctx, map[string]types.AttributeValue{
		"run":    &types.AttributeValueMemberS{Value: run},
		"epoch":  integer(paramsEpoch),
		"time":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		"params": &types.AttributeValueMemberS{Value: string(doc)},
	})
}

func (s *DynamoSink) LogEpoch(ctx context.Context, e Epoch) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return s.put(ctx, map[string]types.AttributeValue{
		"run":                  &types.AttributeValueMemberS{Value: e.Run},
		"epoch":                integer(int64(e.Epoch)),
		"time":                 &types.AttributeValueMemberS{Value: e.Time.Format(time.RFC3339Nano)},
		"train_loss":           number(e.TrainLoss),
		"val_distance":         number(e.ValDistance),
		"learning_rate":        number(e.LearningRate),
		"intra_distance":       number(e.IntraDistance),
		"inter_distance":       number(e.InterDistance),
		"skipped_batches":      integer(e.SkippedBatches),
		"degenerate_positives": integer(e.Degenerate),
		"checkpointed":         &types.AttributeValueMemberBOOL{Value: e.Checkpointed},
	})
}

// Epochs returns the epoch records of run in epoch order.
func (s *DynamoSink) Epochs(ctx context.Context, run string) ([]Epoch, error) {
	var (
		out   []Epoch
		start map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("#run = :run AND #epoch >= :zero"),
			ExpressionAttributeNames: map[string]string{
				"#run":   "run",
				"#epoch": "epoch",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":run":  &types.AttributeValueMemberS{Value: run},
				":zero": integer(0),
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			e, err := decodeEpoch(item)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = resp.LastEvaluatedKey
	}
}

// LogArtifact records nothing. Items are capped at 400 KB, so model blobs
// belong in a BadgerSink or the checkpoint store.
func (s *DynamoSink) LogArtifact(context.Context, string, string, []byte) error { return nil }

func (s *DynamoSink) Close() error { return nil }

func decodeEpoch(item map[string]types.AttributeValue) (Epoch, error) {
	var (
		e   Epoch
		err error
	)
	str := func(key string) string {
		if v, ok := item[key].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	num := func(key string) float64 {
		v, ok := item[key].(*types.AttributeValueMemberN)
		if !ok || err != nil {
			return 0
		}
		var f float64
		f, err = strconv.ParseFloat(v.Value, 64)
		return f
	}

	e.Run = str("run")
	e.Epoch = int(num("epoch"))
	e.TrainLoss = num("train_loss")
	e.ValDistance = num("val_distance")
	e.LearningRate = num("learning_rate")
	e.IntraDistance = num("intra_distance")
	e.InterDistance = num("inter_distance")
	e.SkippedBatches = int64(num("skipped_batches"))
	e.Degenerate = int64(num("degenerate_positives"))
	if v, ok := item["checkpointed"].(*types.AttributeValueMemberBOOL); ok {
		e.Checkpointed = v.Value
	}
	if ts := str("time"); ts != "" && err == nil {
		e.Time, err = time.Parse(time.RFC3339Nano, ts)
	}
	return e, err
}
