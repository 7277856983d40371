package usecase

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tranzio/tranzio-api/internal/core/domain"
)

var mobilePattern = regexp.MustCompile(`^\d{10}$`)

var signupValidator = newSignupValidator()

func newSignupValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Empty values pass; presence is enforced by required tags.
	_ = v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value == "" || mobilePattern.MatchString(value)
	})
	return v
}

// SignupInput carries the registration form.
type SignupInput struct {
	RegistrantType     domain.RegistrantType `json:"registrantType" validate:"oneof=individual enterprise"`
	DisplayName        string                `json:"displayName" validate:"required"`
	Mobile             string                `json:"mobile" validate:"required,mobile"`
	Email              string                `json:"email" validate:"required,email"`
	Password           string                `json:"password" validate:"required,min=6"`
	ConfirmPassword    string                `json:"confirmPassword" validate:"required,eqfield=Password"`
	OwnerName          string                `json:"ownerName" validate:"required_if=RegistrantType enterprise"`
	OwnerMobile        string                `json:"ownerMobile" validate:"required_if=RegistrantType enterprise,mobile"`
	TaxID              string                `json:"taxId" validate:"required_if=RegistrantType enterprise"`
	EnterpriseCategory string                `json:"enterpriseCategory" validate:"required_if=RegistrantType enterprise"`
}

// normalize trims free-text fields and lower-cases the email. Passwords are kept verbatim.
func (in SignupInput) normalize() SignupInput {
	out := in
	out.RegistrantType = domain.RegistrantType(strings.ToLower(strings.TrimSpace(string(in.RegistrantType))))
	if out.RegistrantType == "" {
		out.RegistrantType = domain.RegistrantIndividual
	}
	out.DisplayName = strings.TrimSpace(in.DisplayName)
	out.Mobile = strings.TrimSpace(in.Mobile)
	out.Email = normalizeEmail(in.Email)
	out.OwnerName = strings.TrimSpace(in.OwnerName)
	out.OwnerMobile = strings.TrimSpace(in.OwnerMobile)
	out.TaxID = strings.TrimSpace(in.TaxID)
	out.EnterpriseCategory = strings.TrimSpace(in.EnterpriseCategory)
	if !out.RegistrantType.IsEnterprise() {
		out.OwnerName, out.OwnerMobile, out.TaxID, out.EnterpriseCategory = "", "", "", ""
	}
	return out
}

func (in SignupInput) enterprise() domain.EnterpriseProfile {
	return domain.EnterpriseProfile{
		OwnerName:          in.OwnerName,
		OwnerMobile:        in.OwnerMobile,
		TaxID:              in.TaxID,
		EnterpriseCategory: in.EnterpriseCategory,
	}
}

// validateSignup reports every violated field at once.
func validateSignup(in SignupInput) error {
	err := signupValidator.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate signup: %w", err)
	}

	out := &ValidationError{}
	for _, fe := range fieldErrs {
		out.add(fe.Field(), signupFieldMessage(fe))
	}
	return out.orNil()
}

func signupFieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "mobile":
		return "must be exactly 10 digits"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "eqfield":
		return "must match password"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation (%s)", fe.Tag())
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
