package gateway

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type schemaRegistry struct {
	once    sync.Once
	initErr error
	base    *jsonschema.Schema
	byType  map[string]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		base, err := jsonschema.CompileString("client_message", baseMessageSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.base = base

		perType := map[string]string{
			"client_hello":              clientHelloSchema,
			"session_open":              sessionOpenSchema,
			"session_close":             sessionScopedSchema,
			"user_message":              userMessageSchema,
			"reset":                     sessionScopedSchema,
			"set_model":                 setModelSchema,
			"ask_response":              askResponseSchema,
			"approval_response":         approvalResponseSchema,
			"provider_auth_set_api_key": setAPIKeySchema,
			"provider_auth_authorize":   providerSchema,
			"provider_auth_callback":    authCallbackSchema,
			"harness_context_set":       harnessContextSetSchema,
			"harness_slo_evaluate":      querySchema,
			"observability_query":       querySchema,
		}
		schemas.byType = make(map[string]*jsonschema.Schema, len(perType))
		for name, src := range perType {
			compiled, err := jsonschema.CompileString("client_message_"+name, src)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.byType[name] = compiled
		}
	})
	return schemas.initErr
}

// validateMessage checks a raw frame against the base schema and the
// per-type schema for its discriminator.
func validateMessage(raw []byte, msgType string) error {
	if err := initSchemas(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := schemas.base.Validate(payload); err != nil {
		return err
	}
	if schema := schemas.byType[msgType]; schema != nil {
		if err := schema.Validate(payload); err != nil {
			return err
		}
	}
	return nil
}

const baseMessageSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const clientHelloSchema = `{
  "type": "object",
  "required": ["client", "version"],
  "properties": {
    "client": { "type": "string", "minLength": 1 },
    "version": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const sessionOpenSchema = `{
  "type": "object",
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const sessionScopedSchema = `{
  "type": "object",
  "required": ["sessionId"],
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const userMessageSchema = `{
  "type": "object",
  "required": ["sessionId", "text"],
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 },
    "text": { "type": "string", "minLength": 1 },
    "clientMessageId": { "type": "string" }
  },
  "additionalProperties": true
}`

const setModelSchema = `{
  "type": "object",
  "required": ["sessionId"],
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 },
    "provider": { "type": "string" },
    "model": { "type": "string" }
  },
  "anyOf": [
    { "required": ["provider"] },
    { "required": ["model"] }
  ],
  "additionalProperties": true
}`

const askResponseSchema = `{
  "type": "object",
  "required": ["sessionId", "requestId", "answer"],
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 },
    "requestId": { "type": "string", "minLength": 1 },
    "answer": { "type": "string" }
  },
  "additionalProperties": true
}`

const approvalResponseSchema = `{
  "type": "object",
  "required": ["sessionId", "requestId", "approved"],
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 },
    "requestId": { "type": "string", "minLength": 1 },
    "approved": { "type": "boolean" }
  },
  "additionalProperties": true
}`

const setAPIKeySchema = `{
  "type": "object",
  "required": ["provider", "apiKey"],
  "properties": {
    "provider": { "type": "string", "minLength": 1 },
    "methodId": { "type": "string" },
    "apiKey": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const providerSchema = `{
  "type": "object",
  "required": ["provider"],
  "properties": {
    "provider": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const authCallbackSchema = `{
  "type": "object",
  "required": ["provider"],
  "properties": {
    "provider": { "type": "string", "minLength": 1 },
    "code": { "type": "string" }
  },
  "additionalProperties": true
}`

const harnessContextSetSchema = `{
  "type": "object",
  "required": ["sessionId", "context"],
  "properties": {
    "sessionId": { "type": "string", "minLength": 1 },
    "context": {}
  },
  "additionalProperties": true
}`

const querySchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`
