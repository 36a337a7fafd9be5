package sink

import (
	"context"
	"fmt"
	"log/slog"

	"chat-core/domain/event"
	"chat-core/repositories"

	"github.com/abadojack/whatlanggo"
)

// DiskSink mirrors the message stream into the repository so history
// survives the session. It subscribes permanently on the bus and ignores
// event kinds that carry no durable state.
type DiskSink struct {
	repository repositories.IMessageRepository
	log        *slog.Logger
}

func NewDiskSink(repository repositories.IMessageRepository, log *slog.Logger) DiskSink {
	return DiskSink{repository: repository, log: log}
}

func (d DiskSink) Consume(_ context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.MessagePosted:
		lang := whatlanggo.Detect(evt.Message.Content).Lang.Iso6391()
		return d.repository.Store(evt.Message, lang)
	case event.MessageUpdated:
		return d.repository.Update(evt.Message)
	case event.MessageDeleted:
		return d.repository.Remove(evt.ID)
	default:
		d.log.Debug(fmt.Sprintf("Nothing to persist for event %T", evt))
		return nil
	}
}
