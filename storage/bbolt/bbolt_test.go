package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/storage/storagetest"
)

func TestRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		repo, err := NewRepositoryFromFile(filepath.Join(t.TempDir(), "todo.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}
