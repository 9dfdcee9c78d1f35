package repository

import (
	"github.com/foxseedlab/pokerbot/internal/kv"
	"github.com/foxseedlab/pokerbot/internal/repository"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		client := do.MustInvoke[kv.Client](i)
		return repository.NewStore(client), nil
	})
}
