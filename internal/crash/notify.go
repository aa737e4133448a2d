package crash

import (
	"context"
	"encoding/json"
	"fmt"
	"fuzzrig/internal/project"
	"fuzzrig/internal/types"
	"fuzzrig/pkg/database"
	"fuzzrig/pkg/mq"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CrashQueue    = "fuzzrig.crashes"
	CrashIndexKey = "fuzzrig:crashes:%s:%s" // project, target
)

// NotifiersModule registers every notifier whose backend is configured.
var NotifiersModule = fx.Options(
	fx.Provide(fx.Annotate(NewBugRecorder, fx.As(new(Notifier)), fx.ResultTags(`group:"crash_notifiers"`))),
	fx.Provide(fx.Annotate(NewRedisIndex, fx.As(new(Notifier)), fx.ResultTags(`group:"crash_notifiers"`))),
	fx.Provide(fx.Annotate(NewCrashPublisher, fx.As(new(Notifier)), fx.ResultTags(`group:"crash_notifiers"`))),
)

// BugRecorder inserts a bug row per new artifact.
type BugRecorder struct {
	db      *gorm.DB
	project string
}

func NewBugRecorder(db *gorm.DB, proj *project.Project) *BugRecorder {
	if db == nil {
		return nil
	}
	return &BugRecorder{db, proj.Name()}
}

func (b *BugRecorder) Name() string { return "database" }

func (b *BugRecorder) Notify(ctx context.Context, artifact types.CrashArtifact) error {
	bug := database.NewBug(
		b.project,
		artifact.Target,
		string(artifact.Kind),
		artifact.ID,
		artifact.Path,
		artifact.Size,
		strings.Join(types.NewCrashMessage(b.project, artifact).Sanitizers, ","),
		datatypes.JSONMap{
			"kind":      artifact.Outcome.Kind.String(),
			"exit_code": artifact.Outcome.ExitCode,
			"signal":    artifact.Outcome.Signal,
		},
	)
	if err := database.AddBugs(ctx, b.db, []*database.Bug{bug}); err != nil {
		return fmt.Errorf("failed to add bug: %w", err)
	}
	return nil
}

// RedisIndex keeps a set of artifact names per target.
type RedisIndex struct {
	client  *redis.Client
	project string
}

func NewRedisIndex(client *redis.Client, proj *project.Project) *RedisIndex {
	if client == nil {
		return nil
	}
	return &RedisIndex{client, proj.Name()}
}

func (r *RedisIndex) Name() string { return "redis" }

func (r *RedisIndex) Notify(ctx context.Context, artifact types.CrashArtifact) error {
	key := fmt.Sprintf(CrashIndexKey, r.project, artifact.Target)
	return r.client.SAdd(ctx, key, artifact.FileName()).Err()
}

// CrashPublisher announces new artifacts on the crash queue.
type CrashPublisher struct {
	mq      mq.RabbitMQ
	project string
}

func NewCrashPublisher(rabbit mq.RabbitMQ, proj *project.Project) *CrashPublisher {
	if rabbit == nil {
		return nil
	}
	return &CrashPublisher{rabbit, proj.Name()}
}

func (p *CrashPublisher) Name() string { return "rabbitmq" }

func (p *CrashPublisher) Notify(ctx context.Context, artifact types.CrashArtifact) error {
	body, err := json.Marshal(types.NewCrashMessage(p.project, artifact))
	if err != nil {
		return fmt.Errorf("failed to marshal crash message: %w", err)
	}
	return p.mq.Publish(ctx, CrashQueue, body)
}
