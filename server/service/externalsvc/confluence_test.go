package externalsvc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfluenceUpdateAttachment(t *testing.T) {
	var countCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		countCalls++
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/wiki/rest/api/content/123/child/attachment/att456/data", r.URL.Path)
		require.Equal(t, "no-check", r.Header.Get("X-Atlassian-Token"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "confluence_overview.csv", hdr.Filename)
		b, err := io.ReadAll(f)
		require.NoError(t, err)

		switch r.Header.Get("Authorization") {
		case "Bearer ok":
			require.Equal(t, "Alias,Project\n", string(b))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	client, err := NewConfluenceClient(&ConfluenceOptions{BaseURL: srv.URL + "/wiki/", BearerToken: "ok"})
	require.NoError(t, err)
	status, err := client.UpdateAttachment(context.Background(), "123", "att456", "confluence_overview.csv", strings.NewReader("Alias,Project\n"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	client, err = NewConfluenceClient(&ConfluenceOptions{BaseURL: srv.URL + "/wiki", BearerToken: "expired"})
	require.NoError(t, err)
	status, err = client.UpdateAttachment(context.Background(), "123", "att456", "confluence_overview.csv", strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, 2, countCalls)

	_, err = NewConfluenceClient(&ConfluenceOptions{BaseURL: "not a url"})
	require.Error(t, err)
}
