// ABOUTME: Tests for the content API HTTP client
// ABOUTME: Covers pagination, auth, retry policy and error classification
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/remote/remotetest"
)

func TestListContactsPaginatesAndFilters(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddContact("acct-1", "Alice", "+15550000001")
	srv.AddContact("acct-1", "Bob", "+15550000002")
	srv.AddContact("acct-2", "Carol", "+15550000003")

	client := NewHTTPClient(srv.URL, "", nil)

	page, err := client.ListContacts(context.Background(), "acct-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Alice", page.Data[0].Name)
	assert.Equal(t, 2, page.Meta.Pagination.PageCount)
	assert.Equal(t, 2, page.Meta.Pagination.Total)
	assert.NotEmpty(t, page.Data[0].ID.String())
	assert.NotEmpty(t, page.Data[0].DocumentID)
}

func TestBearerTokenIsSent(t *testing.T) {
	srv := remotetest.NewServer()
	srv.Token = "secret"
	t.Cleanup(srv.Close)

	_, err := NewHTTPClient(srv.URL, "wrong", nil).ListPlatformUsers(context.Background(), 1, 10)
	require.Error(t, err)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, "UnauthorizedError", httpErr.Code)

	_, err = NewHTTPClient(srv.URL, "secret", nil).ListPlatformUsers(context.Background(), 1, 10)
	require.NoError(t, err)
}

func TestCreateConflictIsClassified(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddContact("acct", "Alice", "+15550000001")

	client := NewHTTPClient(srv.URL, "", nil)
	_, err := client.CreateContact(context.Background(), ContactInput{Name: "Alice", Phone: "+15550000001", Owner: "acct"})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)

	err := NewHTTPClient(srv.URL, "", nil).DeleteContact(context.Background(), "9999")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDeleteEmptyIDIsShapeError(t *testing.T) {
	err := NewHTTPClient("http://127.0.0.1:1", "", nil).DeleteContact(context.Background(), " ")
	assert.True(t, IsShapeError(err))
}

func TestReadsRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[],"meta":{"pagination":{"page":1,"pageSize":10,"pageCount":0,"total":0}}}`))
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.URL, "", nil).WithRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
	_, err := client.ListContacts(context.Background(), "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.URL, "", nil).WithRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
	_, err := client.CreateContact(context.Background(), ContactInput{Phone: "+1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, models.ErrorKindRejected, ErrorKindOf(err))
}

func TestRetryDelayHonoursRetryAfter(t *testing.T) {
	client := NewHTTPClient("", "", nil).WithRetryPolicy(3, 10*time.Millisecond, time.Second)

	assert.Equal(t, 10*time.Millisecond, client.retryDelay(1, ""))
	assert.Equal(t, 40*time.Millisecond, client.retryDelay(3, ""))
	assert.Equal(t, time.Second, client.retryDelay(1, "30"))
}

func TestErrorKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, models.ErrorKindTimeout},
		{"canceled", context.Canceled, models.ErrorKindCanceled},
		{"http", &HTTPError{StatusCode: 500}, models.ErrorKindRejected},
		{"transport", errors.New("connection refused"), models.ErrorKindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKindOf(tt.err))
		})
	}
}

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var rec ContactRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"documentId":"abc"}`), &rec))
	assert.Equal(t, ID("42"), rec.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"x-7"}`), &rec))
	assert.Equal(t, ID("x-7"), rec.ID)
}

func TestConflictRecordRecoversExisting(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	existing := srv.AddContact("acct", "Alice", "+15550000001")

	_, err := NewHTTPClient(srv.URL, "", nil).CreateContact(context.Background(), ContactInput{Phone: "+15550000001", Owner: "acct"})
	rec, ok := ConflictRecord(err)
	require.True(t, ok)
	assert.Equal(t, existing.DocumentID, rec.DocumentID)

	_, ok = ConflictRecord(&HTTPError{StatusCode: http.StatusConflict})
	assert.False(t, ok)
}
