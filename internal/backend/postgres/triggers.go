package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/fluent/internal/core"
)

//go:embed notify.sql
var notifyFunctionSQL string

var errNoEntities = errors.New("no entities to install triggers for")

// triggerSQL returns the statements that attach the notify trigger to one
// table.
func triggerSQL(prefix string, entity core.Entity) []string {
	trigger := pgx.Identifier{"fluent_notify_" + string(entity)}.Sanitize()
	table := pgx.Identifier{string(entity)}.Sanitize()
	channel := "'" + ChannelName(prefix, entity) + "'"

	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, table),
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s "+
			"FOR EACH STATEMENT EXECUTE FUNCTION fluent_notify_change(%s)", trigger, table, channel),
	}
}

// InstallTriggers creates the notify function and attaches a trigger to
// every entity table, in one transaction.
func (b *Backend) InstallTriggers(ctx context.Context, entities []core.Entity) error {
	if len(entities) == 0 {
		return errNoEntities
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	if _, err := tx.Exec(ctx, notifyFunctionSQL); err != nil {
		return fmt.Errorf("create notify function: %w", err)
	}
	for _, e := range entities {
		for _, stmt := range triggerSQL(b.prefix, e) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("install trigger on %s: %w", e, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit triggers: %w", err)
	}
	return nil
}
