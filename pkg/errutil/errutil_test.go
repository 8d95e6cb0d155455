package errutil

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestKindRetryable(t *testing.T) {
	require.True(t, KindTransientStore.Retryable())
	require.True(t, KindDelivery.Retryable())
	require.False(t, KindValidation.Retryable())
	require.False(t, KindPermanentStore.Retryable())
	require.False(t, KindConfiguration.Retryable())
}

func TestKindHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, KindValidation.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, KindTransientStore.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, KindPermanentStore.HTTPStatus())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := TransientStore("store unavailable", cause, WithCode("08006"))

	var e Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, KindTransientStore, e.Kind)
	require.Equal(t, "08006", e.Code)
	require.ErrorIs(t, err, cause)
	require.True(t, e.Retryable())
}

func TestKindOfDefaultsToPermanent(t *testing.T) {
	require.Equal(t, KindPermanentStore, KindOf(errors.New("mystery")))
	require.Equal(t, KindValidation, KindOf(Validation("bad input", nil)))
}

func TestClassify(t *testing.T) {
	require.Equal(t, KindTransientStore, Classify(context.DeadlineExceeded))
	require.Equal(t, KindTransientStore, Classify(context.Canceled))
	require.Equal(t, KindPermanentStore, Classify(gorm.ErrDuplicatedKey))
	require.Equal(t, KindPermanentStore, Classify(gorm.ErrInvalidData))

	// SQLSTATE class 53 (insufficient resources) is worth retrying.
	require.Equal(t, KindTransientStore, Classify(&pgconn.PgError{Code: "53300"}))
	// 08xxx connection failures likewise.
	require.Equal(t, KindTransientStore, Classify(&pgconn.PgError{Code: "08006"}))
	// 23505 unique violation is permanent.
	require.Equal(t, KindPermanentStore, Classify(&pgconn.PgError{Code: "23505"}))

	// Unknown store errors default to transient so the retry path can judge.
	require.Equal(t, KindTransientStore, Classify(errors.New("broken pipe")))
}
