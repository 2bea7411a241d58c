package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suteetoe/tenantgate/internal/apperror"
)

type signup struct {
	Workspace string  `json:"workspace" validate:"required,slug"`
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8,maxbytes=72"`
	Name      *string `json:"name" validate:"omitnil,notblank,max=10"`
	Role      string  `json:"role" validate:"omitempty,oneof=tenant_admin user"`
	Status    string  `json:"status" validate:"omitempty,oneofci=todo done"`
	Internal  string  `json:"-"`
}

func valid() signup {
	return signup{Workspace: "acme-co", Email: "a@acme.io", Password: "long-enough"}
}

func TestValidateAcceptsValidInput(t *testing.T) {
	s := valid()
	require.NoError(t, Struct(&s))

	name := "Ann"
	s.Name = &name
	s.Role = "user"
	s.Workspace = "ACME-CO"
	s.Status = " Done "
	assert.NoError(t, Struct(&s))
}

func TestValidateRejects(t *testing.T) {
	blank := "   "
	empty := ""
	long := strings.Repeat("x", 11)

	tests := []struct {
		name   string
		mutate func(*signup)
		code   string
		rule   string
	}{
		{"missing workspace", func(s *signup) { s.Workspace = "" }, "invalid_workspace", "required"},
		{"short slug", func(s *signup) { s.Workspace = "ab" }, "invalid_workspace", "slug"},
		{"leading hyphen", func(s *signup) { s.Workspace = "-acme" }, "invalid_workspace", "slug"},
		{"bad email", func(s *signup) { s.Email = "not-an-email" }, "invalid_email", "email"},
		{"short password", func(s *signup) { s.Password = "short" }, "invalid_password", "min"},
		{"password over bcrypt limit", func(s *signup) { s.Password = strings.Repeat("é", 40) }, "invalid_password", "maxbytes"},
		{"blank name", func(s *signup) { s.Name = &blank }, "invalid_name", "notblank"},
		{"empty name", func(s *signup) { s.Name = &empty }, "invalid_name", "notblank"},
		{"long name", func(s *signup) { s.Name = &long }, "invalid_name", "max"},
		{"platform role", func(s *signup) { s.Role = "super_admin" }, "invalid_role", "oneof"},
		{"unknown status", func(s *signup) { s.Status = "blocked" }, "invalid_status", "oneofci"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := Struct(&s)
			require.Error(t, err)

			appErr := apperror.From(err)
			assert.Equal(t, apperror.KindValidation, appErr.Kind)
			assert.Equal(t, tt.code, appErr.Code)
			fields := appErr.Details["fields"].(map[string]string)
			assert.Equal(t, tt.rule, fields[strings.TrimPrefix(tt.code, "invalid_")])
		})
	}
}

func TestValidateListsEveryFailingField(t *testing.T) {
	err := Struct(&signup{})
	fields := apperror.From(err).Details["fields"].(map[string]string)
	assert.Len(t, fields, 3)
	assert.NotContains(t, fields, "Internal")
}

func TestValidateNonStructIsInternal(t *testing.T) {
	err := Struct("just a string")
	assert.True(t, apperror.Is(err, apperror.KindInternal))
}
