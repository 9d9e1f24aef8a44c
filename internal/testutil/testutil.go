// Package testutil provides file fixtures for tests that run the full
// analysis pipeline.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll(%s) error: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", path, err)
	}
}

// ReadFile reads content from a file.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error: %v", path, err)
	}
	return string(data)
}

// CreateFileTree creates multiple files from a map of path -> content.
func CreateFileTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		WriteFile(t, filepath.Join(root, name), content)
	}
}

// ServiceFiles is a two-language project: a Go HTTP service and a Python
// client that calls it.
var ServiceFiles = map[string]string{
	"api/server.go": `package main

import "net/http"

func getUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.PathValue("id"))
}

func writeJSON(w http.ResponseWriter, v string) {
	w.Write([]byte(v))
}

func main() {
	http.HandleFunc("GET /api/users/{id}", getUser)
	http.ListenAndServe(":8080", nil)
}
`,
	"web/client.py": `import requests


def fetch_user(user_id):
    return requests.get("http://localhost:8080/api/users/" + str(user_id)).json()


def main():
    print(fetch_user(1))
`,
}

// ServiceRepo writes ServiceFiles into a fresh temp dir and returns it.
func ServiceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	CreateFileTree(t, dir, ServiceFiles)
	return dir
}

// GitRepo writes files into a fresh repository and commits them on master.
func GitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init repo: %v", err)
	}
	CreateFileTree(t, dir, files)

	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	for name := range files {
		if _, err := w.Add(filepath.ToSlash(name)); err != nil {
			t.Fatalf("Add(%s) error: %v", name, err)
		}
	}
	_, err = w.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return dir
}
