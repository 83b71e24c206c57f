package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const testToken = "ghp_secret_test_token"

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)
	c, err := NewClient(Config{
		BaseURL:      server.URL,
		OAuthBaseURL: server.URL,
		Token:        func() string { return testToken },
		HTTPClient:   server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresHTTPS(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{BaseURL: "http://api.example.com"}); err == nil {
		t.Fatalf("expected error for plain http base url")
	}
	if _, err := NewClient(Config{OAuthBaseURL: "http://github.example.com"}); err == nil {
		t.Fatalf("expected error for plain http oauth url")
	}
	c, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("NewClient defaults: %v", err)
	}
	if c.baseURL != defaultBaseURL {
		t.Fatalf("baseURL=%q", c.baseURL)
	}
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
			t.Errorf("Authorization=%q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github+json" {
			t.Errorf("Accept=%q", got)
		}
		if got := r.Header.Get("X-GitHub-Api-Version"); got != apiVersion {
			t.Errorf("X-GitHub-Api-Version=%q", got)
		}
		_, _ = io.WriteString(w, `{"login":"octo","name":"Octo Cat"}`)
	})
	c := newTestClient(t, mux)

	u, err := c.Viewer(context.Background())
	if err != nil {
		t.Fatalf("Viewer: %v", err)
	}
	if u.Login != "octo" {
		t.Fatalf("login=%q", u.Login)
	}
}

func TestNoTokenShortCircuits(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.HasToken() {
		t.Fatalf("HasToken=true without token")
	}
	if _, err := c.Viewer(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err=%v, want ErrNoToken", err)
	}
}

func TestCreateRepo(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /user/repos", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["name"] != "demo" || body["private"] != true || body["auto_init"] != true {
			t.Errorf("body=%v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"name":"demo","full_name":"octo/demo","private":true,"clone_url":"https://github.com/octo/demo.git","owner":{"login":"octo"}}`)
	})
	c := newTestClient(t, mux)

	repo, err := c.CreateRepo(context.Background(), CreateRepoOptions{Name: "demo", Private: true, AutoInit: true})
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	if repo.FullName != "octo/demo" || repo.CloneURL == "" || repo.Owner.Login != "octo" {
		t.Fatalf("repo=%+v", repo)
	}

	if _, err := c.CreateRepo(context.Background(), CreateRepoOptions{}); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestRemoteErrorOmitsToken(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /user/repos", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"Repository creation failed.","errors":[{"resource":"Repository","field":"name","code":"custom","message":"name already exists on this account"}]}`)
	})
	c := newTestClient(t, mux)

	_, err := c.CreateRepo(context.Background(), CreateRepoOptions{Name: "demo"})
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("err=%T %v, want *RemoteError", err, err)
	}
	if rerr.StatusCode != http.StatusUnprocessableEntity || !IsValidationFailed(err) {
		t.Fatalf("status=%d", rerr.StatusCode)
	}
	msg := err.Error()
	if strings.Contains(msg, testToken) {
		t.Fatalf("error leaks token: %q", msg)
	}
	if !strings.Contains(msg, "name already exists") {
		t.Fatalf("error=%q", msg)
	}
}

func TestRepoExists(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"demo"}`)
	})
	mux.HandleFunc("GET /repos/octo/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("GET /repos/octo/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	if ok, err := c.RepoExists(ctx, "octo", "demo"); err != nil || !ok {
		t.Fatalf("demo: ok=%v err=%v", ok, err)
	}
	if ok, err := c.RepoExists(ctx, "octo", "missing"); err != nil || ok {
		t.Fatalf("missing: ok=%v err=%v", ok, err)
	}
	if _, err := c.RepoExists(ctx, "octo", "broken"); err == nil {
		t.Fatalf("broken: expected error")
	}
}

func TestRenameAndDeleteRepo(t *testing.T) {
	t.Parallel()

	var deleted atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /repos/octo/old", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "new" {
			t.Errorf("body=%v", body)
		}
		_, _ = io.WriteString(w, `{"name":"new","full_name":"octo/new"}`)
	})
	mux.HandleFunc("DELETE /repos/octo/new", func(w http.ResponseWriter, r *http.Request) {
		deleted.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	repo, err := c.RenameRepo(ctx, "octo", "old", "new")
	if err != nil {
		t.Fatalf("RenameRepo: %v", err)
	}
	if repo.Name != "new" {
		t.Fatalf("name=%q", repo.Name)
	}
	if err := c.DeleteRepo(ctx, "octo", "new"); err != nil {
		t.Fatalf("DeleteRepo: %v", err)
	}
	if !deleted.Load() {
		t.Fatalf("delete endpoint not called")
	}
	if err := c.DeleteRepo(ctx, "octo", "gone"); !IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
}

func TestListReposFiltersOwner(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
		_, _ = io.WriteString(w, `[{"name":"a","owner":{"login":"octo"}},{"name":"b","owner":{"login":"other"}},{"name":"c","owner":{"login":"Octo"}}]`)
	})
	c := newTestClient(t, mux)

	repos, err := c.ListRepos(context.Background(), "octo")
	if err != nil {
		t.Fatalf("ListRepos: %v", err)
	}
	if len(repos) != 2 || repos[0].Name != "a" || repos[1].Name != "c" {
		t.Fatalf("repos=%+v", repos)
	}
}

func TestUpdateRepoAddsReadme(t *testing.T) {
	t.Parallel()

	readmes := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["private"] != false {
			t.Errorf("body=%v", body)
		}
		_, _ = io.WriteString(w, `{"name":"demo","description":"A demo"}`)
	})
	mux.HandleFunc("PUT /repos/octo/demo/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		b, _ := base64.StdEncoding.DecodeString(body["content"])
		readmes <- string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{}`)
	})
	c := newTestClient(t, mux)

	private := false
	if _, err := c.UpdateRepo(context.Background(), "octo", "demo", UpdateRepoOptions{Private: &private, AddReadme: true}); err != nil {
		t.Fatalf("UpdateRepo: %v", err)
	}
	readme := <-readmes
	if !strings.HasPrefix(readme, "# demo\n") || !strings.Contains(readme, "A demo") {
		t.Fatalf("readme=%q", readme)
	}
}

func TestUpdateRepoExistingReadmeIgnored(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"demo"}`)
	})
	mux.HandleFunc("PUT /repos/octo/demo/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"Invalid request.\n\n\"sha\" wasn't supplied."}`)
	})
	c := newTestClient(t, mux)

	if _, err := c.UpdateRepo(context.Background(), "octo", "demo", UpdateRepoOptions{AddReadme: true}); err != nil {
		t.Fatalf("UpdateRepo: %v", err)
	}
}

func TestBranches(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ref":"refs/heads/main","object":{"sha":"abc123","type":"commit"}}`)
	})
	mux.HandleFunc("POST /repos/octo/demo/git/refs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["ref"] != "refs/heads/feature" || body["sha"] != "abc123" {
			t.Errorf("body=%v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"ref":"refs/heads/feature","object":{"sha":"abc123"}}`)
	})
	mux.HandleFunc("GET /repos/octo/demo/branches", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"name":"main","commit":{"sha":"abc123"}},{"name":"feature","commit":{"sha":"abc123"}}]`)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	sha, err := c.BranchSHA(ctx, "octo", "demo", "main")
	if err != nil {
		t.Fatalf("BranchSHA: %v", err)
	}
	if sha != "abc123" {
		t.Fatalf("sha=%q", sha)
	}
	ref, err := c.CreateBranch(ctx, "octo", "demo", "feature", sha)
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if ref.Ref != "refs/heads/feature" {
		t.Fatalf("ref=%q", ref.Ref)
	}
	branches, err := c.ListBranches(ctx, "octo", "demo")
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(branches) != 2 || branches[1].Name != "feature" {
		t.Fatalf("branches=%+v", branches)
	}
}

func TestExchangeCode(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept=%q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") == "bad" {
			_, _ = io.WriteString(w, `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`)
			return
		}
		if r.Form.Get("client_id") != "cid" || r.Form.Get("client_secret") != "csecret" {
			t.Errorf("form=%v", r.Form)
		}
		_, _ = io.WriteString(w, `{"access_token":"gho_new","token_type":"bearer","scope":"repo"}`)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	tok, err := c.ExchangeCode(ctx, "cid", "csecret", "good")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tok.AccessToken != "gho_new" || tok.Scope != "repo" {
		t.Fatalf("tok=%+v", tok)
	}

	_, err = c.ExchangeCode(ctx, "cid", "csecret", "bad")
	var rerr *RemoteError
	if !errors.As(err, &rerr) || !strings.Contains(rerr.Message, "incorrect or expired") {
		t.Fatalf("err=%v", err)
	}
	if _, err := c.ExchangeCode(ctx, "", "", "x"); err == nil {
		t.Fatalf("expected error without oauth client")
	}
}
