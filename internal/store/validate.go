package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared shape validator. Struct tags on the models
// declare required fields and closed enums; reference checks need store
// state and run inside the write transaction via a refCheck.
var validate = validator.New(validator.WithRequiredStructEnabled())

// refCheck answers existence questions against the state visible to the
// current transaction, so referential validation and the write commit or
// abort together.
type refCheck struct {
	threadExists func(id string) (bool, error)
	axisExists   func(id string) (bool, error)
	memberExists func(id string) (bool, error)
}

// ValidateReflection checks shape invariants of a reflection. Pure.
func ValidateReflection(r Reflection) error {
	return shapeErr(validate.Struct(r))
}

// ValidateThread checks shape invariants of a thread, including member
// uniqueness. Pure.
func ValidateThread(t Thread) error {
	if err := shapeErr(validate.Struct(t)); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(t.MemberIDs))
	for _, id := range t.MemberIDs {
		if id == "" {
			return &ValidationError{Code: CodeMissingRequiredField, Field: "memberIds", Message: "empty member id"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Code: CodeConstraintViolation, Field: "memberIds", Message: fmt.Sprintf("duplicate member %s", id)}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ValidateIdentityAxis checks shape invariants of an identity axis. Pure.
func ValidateIdentityAxis(a IdentityAxis) error {
	return shapeErr(validate.Struct(a))
}

// ValidateSettings checks shape invariants of the settings singleton. Pure.
func ValidateSettings(s UserSettings) error {
	if err := shapeErr(validate.Struct(s)); err != nil {
		return err
	}
	if s.FontScale <= 0 {
		return &ValidationError{Code: CodeConstraintViolation, Field: "fontScale", Message: "font scale must be positive"}
	}
	return nil
}

// ValidateConsent checks shape invariants of a consent record. Pure.
func ValidateConsent(c ConsentRecord) error {
	return shapeErr(validate.Struct(c))
}

// checkReflectionRefs verifies threadId and identityAxisId point at
// existing records.
func checkReflectionRefs(r Reflection, refs refCheck) error {
	if r.ThreadID != "" {
		ok, err := refs.threadExists(r.ThreadID)
		if err != nil {
			return err
		}
		if !ok {
			return &ValidationError{Code: CodeDanglingReference, Field: "threadId", Message: fmt.Sprintf("thread %s does not exist", r.ThreadID)}
		}
	}
	if r.IdentityAxisID != "" {
		ok, err := refs.axisExists(r.IdentityAxisID)
		if err != nil {
			return err
		}
		if !ok {
			return &ValidationError{Code: CodeDanglingReference, Field: "identityAxisId", Message: fmt.Sprintf("identity axis %s does not exist", r.IdentityAxisID)}
		}
	}
	return nil
}

// checkThreadRefs verifies every member id references an existing
// reflection. Consistency is only required at commit, so the check
// shares the write transaction.
func checkThreadRefs(t Thread, refs refCheck) error {
	for _, id := range t.MemberIDs {
		ok, err := refs.memberExists(id)
		if err != nil {
			return err
		}
		if !ok {
			return &ValidationError{Code: CodeDanglingReference, Field: "memberIds", Message: fmt.Sprintf("reflection %s does not exist", id)}
		}
	}
	return nil
}

// shapeErr maps validator failures onto the store's error taxonomy.
func shapeErr(err error) error {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return &ValidationError{Code: CodeConstraintViolation, Message: err.Error()}
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return &ValidationError{Code: CodeMissingRequiredField, Field: fe.Field(), Message: "required field is missing"}
	case "oneof":
		return &ValidationError{Code: CodeInvalidEnumValue, Field: fe.Field(), Message: fmt.Sprintf("%v is not a valid value", fe.Value())}
	default:
		return &ValidationError{Code: CodeConstraintViolation, Field: fe.Field(), Message: fe.Error()}
	}
}
