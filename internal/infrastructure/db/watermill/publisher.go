package watermilldb

import (
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const defaultBufferSize = 256

// NewGoChannelPublisher returns an in-process bus. Messages published on a
// topic nobody subscribed to are dropped.
func NewGoChannelPublisher(bufferSize int64) *gochannel.GoChannel {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: bufferSize},
		NewLogger(),
	)
}

// NewPostgresPublisher returns a bus that appends messages to a
// watermill_<topic> table of the given db, creating it if missing.
func NewPostgresPublisher(db *sql.DB) (message.Publisher, error) {
	publisher, err := wmsql.NewPublisher(
		db,
		wmsql.PublisherConfig{
			SchemaAdapter:        wmsql.DefaultPostgreSQLSchema{},
			AutoInitializeSchema: true,
		},
		NewLogger(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres publisher: %w", err)
	}
	return publisher, nil
}

var _ watermill.LoggerAdapter = (*logger)(nil)
