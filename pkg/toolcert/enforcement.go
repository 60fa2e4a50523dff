package toolcert

import (
	"bytes"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// UntrustedToolError is raised by RequireCertificate in strict mode when a
// tool fails verification.
type UntrustedToolError struct {
	Tool   string
	Reason string
}

func (e *UntrustedToolError) Error() string {
	return fmt.Sprintf("DENY: untrusted tool %q: %s", e.Tool, e.Reason)
}

// RequireCertificate wraps fn so that it only runs once the tool identified
// by in has been verified against r. In strict mode a failed verification
// returns an *UntrustedToolError without calling fn; in non-strict mode the
// violation is already recorded by Verify and fn still runs — intended
// only for staged rollouts, never steady-state production use.
func RequireCertificate[T any](r *Registry, in VerifyInput, fn func() (T, error)) (T, error) {
	var zero T
	if !r.Verify(in) {
		violations := r.Violations()
		reason := "no valid certificate"
		if len(violations) > 0 {
			reason = violations[len(violations)-1].Detail
		}
		if r.Strict() {
			return zero, &UntrustedToolError{Tool: in.ToolName, Reason: reason}
		}
	}
	return fn()
}

// CapabilityPolicy evaluates a CEL expression over a call's declared
// arguments and the tool certificate's capability list, to decide whether
// the attempted action is covered — a data-driven complement to plain
// certificate validity in strict mode. The boolean expression receives two
// variables: `capabilities` (the certificate's capability list) and `call`
// (the caller-supplied argument map).
type CapabilityPolicy struct {
	env *cel.Env
	prg cel.Program
}

// NewCapabilityPolicy compiles expr once; call Evaluate repeatedly against
// different call arguments without recompiling.
func NewCapabilityPolicy(expr string) (*CapabilityPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("capabilities", cel.ListType(cel.StringType)),
		cel.Variable("call", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("toolcert: create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("toolcert: compile capability policy: %w", issues.Err())
	}
	prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("toolcert: build capability policy program: %w", err)
	}
	return &CapabilityPolicy{env: env, prg: prg}, nil
}

// Evaluate runs the policy against a certificate's capabilities and the
// call's declared arguments, returning whether the call is permitted.
func (p *CapabilityPolicy) Evaluate(cert *Certificate, call map[string]interface{}) (bool, error) {
	caps := cert.Capabilities
	if caps == nil {
		caps = []string{}
	}
	out, _, err := p.prg.Eval(map[string]interface{}{
		"capabilities": caps,
		"call":         call,
	})
	if err != nil {
		return false, fmt.Errorf("toolcert: evaluate capability policy: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("toolcert: capability policy did not evaluate to a boolean")
	}
	return val, nil
}

// MetadataSchema validates certificate-issuance metadata (owner,
// organisation, description, capabilities) against a JSON Schema before a
// certificate is minted, catching malformed input at issuance time rather
// than discovering it during an audit.
type MetadataSchema struct {
	schema *jsonschema.Schema
}

// CompileMetadataSchema compiles schemaJSON (a JSON Schema document) for
// reuse across many CertifyInput validations.
func CompileMetadataSchema(schemaJSON []byte) (*MetadataSchema, error) {
	compiler := jsonschema.NewCompiler()
	const resourceName = "toolcert-metadata.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("toolcert: add metadata schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("toolcert: compile metadata schema: %w", err)
	}
	return &MetadataSchema{schema: schema}, nil
}

// Validate checks a certification request's metadata fields against the
// schema.
func (m *MetadataSchema) Validate(in CertifyInput) error {
	doc := map[string]interface{}{
		"owner":        in.Owner,
		"organization": in.Organization,
		"description":  in.Description,
		"capabilities": in.Capabilities,
	}
	if err := m.schema.Validate(doc); err != nil {
		return fmt.Errorf("toolcert: certificate metadata failed schema validation: %w", err)
	}
	return nil
}
