package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownType is returned for envelopes whose type is not a client message.
	ErrUnknownType = errors.New("proto: unknown message type")
	// ErrInvalidMessage is returned for payloads that are not valid JSON or
	// fail schema validation.
	ErrInvalidMessage = errors.New("proto: invalid message")
)

type variant struct {
	typ    reflect.Type
	schema *gojsonschema.Schema
	decode func([]byte) (ClientMessage, error)
}

var variants = map[string]variant{
	TypeHello:      mustVariant[Hello](),
	TypeListRooms:  mustVariant[ListRooms](),
	TypeCreateRoom: mustVariant[CreateRoom](),
	TypeJoinRoom:   mustVariant[JoinRoom](),
	TypeLeaveRoom:  mustVariant[LeaveRoom](),
	TypeAction:     mustVariant[Action](),
	TypePing:       mustVariant[Ping](),
}

func mustVariant[T ClientMessage]() variant {
	var zero T
	typ := reflect.TypeOf(zero)
	data, err := json.Marshal(reflectSchema(typ))
	if err != nil {
		panic(fmt.Sprintf("proto: marshal %T schema: %v", zero, err))
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("proto: compile %T schema: %v", zero, err))
	}
	return variant{
		typ:    typ,
		schema: schema,
		decode: func(payload []byte) (ClientMessage, error) {
			var msg T
			if err := json.Unmarshal(payload, &msg); err != nil {
				return nil, err
			}
			return msg, nil
		},
	}
}

func reflectSchema(t reflect.Type) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.ReflectFromType(t)
	schema.Version = ""
	// Clients may attach fields a newer build understands.
	schema.AdditionalProperties = &jsonschema.Schema{}
	return schema
}

// Schema returns the JSON schema of the named client message, or nil.
func Schema(msgType string) *jsonschema.Schema {
	v, ok := variants[msgType]
	if !ok {
		return nil
	}
	return reflectSchema(v.typ)
}

// Decode validates payload against the schema of its declared type and
// returns the typed message.
func Decode(payload []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	v, ok := variants[envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, envelope.Type)
	}
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(problems, "; "))
	}
	msg, err := v.decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}
