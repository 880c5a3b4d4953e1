package mailchimp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/fields"
)

// fakeList serves a paged list and records writes
type fakeList struct {
	mu      sync.Mutex
	members []listMember
	patched map[string]listMember
	posted  []listMember
	gets    int
}

func (f *fakeList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, pass, _ := r.BasicAuth()
	if user != "anystring" || pass != "key-us11" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/3.0/lists/L1/members":
		f.gets++
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		end := offset + count
		if end > len(f.members) {
			end = len(f.members)
		}
		page := listPage{Members: []listMember{}, TotalItems: len(f.members)}
		if offset < len(f.members) {
			page.Members = f.members[offset:end]
		}
		json.NewEncoder(w).Encode(page)
	case r.Method == http.MethodPatch:
		var m listMember
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &m)
		f.patched[r.URL.Path] = m
		w.Write(body)
	case r.Method == http.MethodPost && r.URL.Path == "/3.0/lists/L1/members":
		var m listMember
		json.NewDecoder(r.Body).Decode(&m)
		f.posted = append(f.posted, m)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, list *fakeList) *Client {
	t.Helper()
	if list.patched == nil {
		list.patched = map[string]listMember{}
	}
	srv := httptest.NewServer(list)
	t.Cleanup(srv.Close)

	return New(Config{
		Enabled:       true,
		APIKey:        "key-us11",
		ListID:        "L1",
		BaseURL:       srv.URL + "/3.0",
		TypeMergeTag:  "MEMBTYPE",
		TypeMember:    "Member",
		TypeVolunteer: "Volunteer",
	}, srv.Client(), nil, nil)
}

func listOf(n int, typename string) []listMember {
	out := make([]listMember, n)
	for i := range out {
		out[i] = listMember{
			ID:           fmt.Sprintf("hash%d", i),
			EmailAddress: fmt.Sprintf("m%d@example.com", i),
			MergeFields:  map[string]interface{}{"MEMBER_ID": fmt.Sprintf("id-%d", i), "MEMBTYPE": typename},
		}
	}
	return out
}

func TestUpsertMember_UpdatesMatchOnLaterPage(t *testing.T) {
	list := &fakeList{members: listOf(150, "Member")}
	c := newTestClient(t, list)

	err := c.UpsertMember(context.Background(), map[string]string{
		fields.ID:        "id-120",
		fields.Email:     "new@example.com",
		fields.FirstName: "Jane",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, list.gets)
	got, ok := list.patched["/3.0/lists/L1/members/hash120"]
	require.True(t, ok)
	assert.Equal(t, "new@example.com", got.EmailAddress)
	assert.Equal(t, "Jane", got.MergeFields["FNAME"])
	assert.Equal(t, "", got.MergeFields["LNAME"])
	assert.Equal(t, "Member", got.MergeFields["MEMBTYPE"])
	assert.Empty(t, got.Status)
}

func TestUpsertVolunteer_CreatesWhenMissing(t *testing.T) {
	list := &fakeList{members: listOf(3, "Volunteer")}
	c := newTestClient(t, list)

	err := c.UpsertVolunteer(context.Background(), map[string]string{
		fields.ID:    "id-new",
		fields.Email: "v@example.com",
	})
	require.NoError(t, err)

	require.Len(t, list.posted, 1)
	assert.Equal(t, "subscribed", list.posted[0].Status)
	assert.Equal(t, "id-new", list.posted[0].MergeFields["MEMBER_ID"])
	assert.Equal(t, "Volunteer", list.posted[0].MergeFields["MEMBTYPE"])
}

func TestUpsertMember_WrongType(t *testing.T) {
	list := &fakeList{members: listOf(2, "Volunteer")}
	c := newTestClient(t, list)

	err := c.UpsertMember(context.Background(), map[string]string{fields.ID: "id-1", fields.Email: "x@example.com"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, err.Error(), "bad data in sheet")
	assert.Empty(t, list.patched)
}

func TestUpsert_EmptyID(t *testing.T) {
	c := newTestClient(t, &fakeList{})
	err := c.UpsertMember(context.Background(), map[string]string{fields.Email: "x@example.com"})
	assert.Contains(t, err.Error(), "bad data in sheet")
}

func TestUpsert_Disabled(t *testing.T) {
	c := New(Config{}, nil, nil, nil)
	assert.False(t, c.Enabled())
	assert.NoError(t, c.UpsertMember(context.Background(), map[string]string{}))
}
