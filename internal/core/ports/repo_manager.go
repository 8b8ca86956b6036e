package ports

import "github.com/lockforge/lockd/internal/core/domain"

type RepoManager interface {
	Events() domain.EventRepository
	Close()
}
