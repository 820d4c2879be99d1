package domain

import "testing"

func TestError_ToHTTPStatus_CoreCodes(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{ErrBadRequest, 400},
		{ErrUnauthorized, 401},
		{ErrForbidden, 403},
		{ErrNotFound, 404},
		{ErrConflict, 409},
		{ErrPoolExhausted, 409},
		{ErrRateLimited, 429},
		{ErrNotImplemented, 501},
		{ErrInternal, 500},
		{ErrUnavailable, 503},
	}
	for _, tc := range cases {
		if got := NewError(tc.code, "", nil).ToHTTPStatus(); got != tc.want {
			t.Fatalf("code %s => status %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestError_Error(t *testing.T) {
	e := NewError(ErrBadRequest, "bad cidr", map[string]string{"field": "prefix"})
	if e.Error() != "bad cidr" {
		t.Fatalf("Error() = %q", e.Error())
	}
}

func TestIsCode(t *testing.T) {
	var err error = NewError(ErrNotFound, "missing", nil)
	if !IsCode(err, ErrNotFound) {
		t.Fatal("expected IsCode to match")
	}
	if IsCode(err, ErrConflict) {
		t.Fatal("expected IsCode to not match different code")
	}
}
