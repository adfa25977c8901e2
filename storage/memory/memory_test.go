package memory_test

import (
	"testing"

	"github.com/patrickcsouzadev/todo-app/storage"
	"github.com/patrickcsouzadev/todo-app/storage/memory"
	"github.com/patrickcsouzadev/todo-app/storage/storagetest"
)

func TestRepositoryConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return memory.NewRepository()
	})
}
