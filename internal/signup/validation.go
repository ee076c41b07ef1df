package signup

import (
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/entrance/internal/signup/domain"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 15
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkShape applies the field constraints that run before any other rule.
func checkShape(req domain.Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ErrInvalid
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[lowerFirst(fe.Field())] = fe.Tag()
	}
	return &domain.ValidationError{Fields: fields}
}

// checkLengths enforces the account rules on password and username length,
// counted in characters.
func checkLengths(req domain.Request) error {
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return domain.ErrPasswordTooShort
	}
	if utf8.RuneCountInString(req.Username) > maxUsernameLength {
		return domain.ErrUsernameTooLong
	}
	return nil
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
