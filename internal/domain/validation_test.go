package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr error
	}{
		{"有效地址", "box@example.com", nil},
		{"带加号的地址", "box+tag@mail.example.com", nil},
		{"大写自动转小写", "Box@Example.COM", nil},
		{"缺少@", "example.com", ErrInvalidEmail},
		{"本地部分以符号开头", "-box@example.com", ErrInvalidLocalPart},
		{"本地部分过长", strings.Repeat("a", 65) + "@example.com", ErrLocalPartTooLong},
		{"域名没有点", "box@localhost", ErrInvalidDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateDomainName(t *testing.T) {
	assert.NoError(t, ValidateDomainName("example.com"))
	assert.NoError(t, ValidateDomainName("sub.example-mail.org"))
	assert.ErrorIs(t, ValidateDomainName(""), ErrInvalidDomain)
	assert.ErrorIs(t, ValidateDomainName("-bad.com"), ErrInvalidDomain)
	assert.ErrorIs(t, ValidateDomainName("bad-.com"), ErrInvalidDomain)
	assert.ErrorIs(t, ValidateDomainName("has space.com"), ErrInvalidDomain)
}

func TestValidateFlag(t *testing.T) {
	tests := []struct {
		flag  string
		valid bool
	}{
		{`\Seen`, true},
		{`\flagged`, true},
		{`\Recent`, false},
		{`\Custom`, false},
		{"$Work", true},
		{"NonJunk", true},
		{"has space", false},
		{"paren(", false},
		{"star*", false},
		{"", false},
		{strings.Repeat("k", MaxFlagLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateFlag(tt.flag) == nil)
		})
	}

	assert.ErrorIs(t, ValidateFlags(make([]string, MaxFlagsPerUpdate+1)), ErrTooManyFlags)
}

func TestAlias_Validate(t *testing.T) {
	assert.NoError(t, (&Alias{DomainID: "d1", Address: "box@example.com"}).Validate())
	assert.ErrorIs(t, (&Alias{Address: "box@example.com"}).Validate(), ErrInvalidDomain)
	assert.Error(t, (&Alias{DomainID: "d1", Address: "nope"}).Validate())
}
