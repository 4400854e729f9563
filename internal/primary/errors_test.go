package primary

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vitae/vitae/backend/go-services/internal/records"
)

func TestKindCodesAndStatus(t *testing.T) {
	cases := []struct {
		kind   Kind
		code   int
		status int
	}{
		{Forbidden, 1000, http.StatusForbidden},
		{FieldsMissing, 1001, http.StatusBadRequest},
		{FieldsInvalid, 1001, http.StatusBadRequest},
		{NotFound, 1100, http.StatusNotFound},
		{DuplicateRecord, 1101, http.StatusConflict},
		{DeleteFailed, 1104, http.StatusInternalServerError},
		{ReferentialConflict, 1107, http.StatusConflict},
		{Internal, 1200, http.StatusInternalServerError},
	}
	for _, c := range cases {
		require.Equal(t, c.code, c.kind.Code(), c.kind)
		require.Equal(t, c.status, c.kind.Status(), c.kind)
	}
}

func TestErrorDetailsEncoding(t *testing.T) {
	b, err := json.Marshal(missing("_id", "record").Details)
	require.NoError(t, err)
	require.JSONEq(t, `[["_id","missing"],["record","missing"]]`, string(b))

	b, err = json.Marshal(invalid(records.FieldError{Field: "record.to", Reason: MsgToBeforeFrom}).Details)
	require.NoError(t, err)
	require.JSONEq(t, `[["record.to","if set, must be higher than `+"`from`"+`"]]`, string(b))
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, "Forbidden", forbidden().Error())
	require.Equal(t, "NotFound: [x skill]", notFound("x", "skill").Error())

	cause := errors.New("disk full")
	err := internal(cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "Internal: disk full", err.Error())
}
