package aws

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Decimal amounts implement encoding.TextMarshaler and are stored as their
// exact string form. Every item holding money or stock quantities goes
// through these helpers.

func textMarshalers(o *attributevalue.EncoderOptions) { o.UseEncodingMarshalers = true }

func textUnmarshalers(o *attributevalue.DecoderOptions) { o.UseEncodingUnmarshalers = true }

// MarshalMap encodes v as a DynamoDB item.
func MarshalMap(v interface{}) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMapWithOptions(v, textMarshalers)
}

// Marshal encodes v as a single attribute value.
func Marshal(v interface{}) (types.AttributeValue, error) {
	return attributevalue.MarshalWithOptions(v, textMarshalers)
}

// UnmarshalMap decodes a DynamoDB item into out.
func UnmarshalMap(m map[string]types.AttributeValue, out interface{}) error {
	return attributevalue.UnmarshalMapWithOptions(m, out, textUnmarshalers)
}

// UnmarshalListOfMaps decodes a page of items into out.
func UnmarshalListOfMaps(l []map[string]types.AttributeValue, out interface{}) error {
	return attributevalue.UnmarshalListOfMapsWithOptions(l, out, textUnmarshalers)
}
