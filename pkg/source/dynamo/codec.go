package dynamo

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrInvalidCursor indicates a cursor that is not an encoded DynamoDB key.
var ErrInvalidCursor = errors.New("invalid dynamodb cursor")

// keyAttr is the wire form of one key attribute. Key attributes are always
// scalar strings, numbers or binaries.
type keyAttr struct {
	S *string `json:"S,omitempty"`
	N *string `json:"N,omitempty"`
	B []byte  `json:"B,omitempty"`
}

// EncodeKey turns a LastEvaluatedKey into an opaque cursor. An empty key
// means the scan is exhausted and encodes as "".
func EncodeKey(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}

	wire := make(map[string]keyAttr, len(key))
	for name, av := range key {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			wire[name] = keyAttr{S: &v.Value}
		case *types.AttributeValueMemberN:
			wire[name] = keyAttr{N: &v.Value}
		case *types.AttributeValueMemberB:
			wire[name] = keyAttr{B: v.Value}
		default:
			return "", fmt.Errorf("unsupported key attribute type %T for %q", av, name)
		}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeKey reverses EncodeKey. The empty cursor decodes to a nil key.
func DecodeKey(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var wire map[string]keyAttr
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidCursor)
	}

	key := make(map[string]types.AttributeValue, len(wire))
	for name, attr := range wire {
		switch {
		case attr.S != nil:
			key[name] = &types.AttributeValueMemberS{Value: *attr.S}
		case attr.N != nil:
			key[name] = &types.AttributeValueMemberN{Value: *attr.N}
		case attr.B != nil:
			key[name] = &types.AttributeValueMemberB{Value: attr.B}
		default:
			return nil, fmt.Errorf("%w: attribute %q has no value", ErrInvalidCursor, name)
		}
	}
	return key, nil
}

// ItemToJSON renders a DynamoDB item as a plain JSON object. Numbers keep
// their exact decimal text, binaries become base64 strings and sets become
// arrays.
func ItemToJSON(item map[string]types.AttributeValue) (json.RawMessage, error) {
	doc, err := toPlain(&types.AttributeValueMemberM{Value: item})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return data, nil
}

func toPlain(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return json.Number(v.Value), nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberB:
		return v.Value, nil
	case *types.AttributeValueMemberSS:
		return v.Value, nil
	case *types.AttributeValueMemberNS:
		nums := make([]json.Number, len(v.Value))
		for i, n := range v.Value {
			nums[i] = json.Number(n)
		}
		return nums, nil
	case *types.AttributeValueMemberBS:
		return v.Value, nil
	case *types.AttributeValueMemberL:
		list := make([]any, len(v.Value))
		for i, elem := range v.Value {
			plain, err := toPlain(elem)
			if err != nil {
				return nil, err
			}
			list[i] = plain
		}
		return list, nil
	case *types.AttributeValueMemberM:
		obj := make(map[string]any, len(v.Value))
		for name, elem := range v.Value {
			plain, err := toPlain(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			obj[name] = plain
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", av)
	}
}
