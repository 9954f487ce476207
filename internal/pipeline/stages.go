package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/export"
	"github.com/JakeFAU/realtime-booklist/internal/progress"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// runScope carries the per-run identity through the stages.
type runScope struct {
	c      *Controller
	id     string
	rid    [16]byte
	logger *zap.Logger
}

func (r *runScope) emit(evt progress.Event) {
	evt.RunID = r.rid
	evt.TS = r.c.deps.Clock.Now().UTC()
	r.c.deps.Events.Emit(evt)
}

func (r *runScope) emitSlot(i int, subject string, status studio.TargetStatus) {
	r.emit(progress.Event{Stage: progress.StageSlot, Slot: i, Subject: subject, Status: status})
}

func (r *runScope) advance(i int, subject string, status studio.TargetStatus) error {
	if err := r.c.board.Advance(i, status); err != nil {
		return err
	}
	r.emitSlot(i, subject, status)
	return nil
}

func (r *runScope) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.c.deps.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// discover reads the archive and fills the target list. An unreadable archive
// counts as empty.
func (r *runScope) discover(ctx context.Context, subject string) []string {
	ctx, span := r.span(ctx, "pipeline.discover")
	defer span.End()

	var archived []string
	projects, err := r.c.deps.Archive.List(ctx)
	if err != nil {
		r.logger.Warn("archive list failed; discovering without exclusions", zap.Error(err))
	} else {
		archived = studio.BookNames(projects)
	}
	targets := r.c.deps.Discoverer.Fill(ctx, subject, archived)
	span.SetAttributes(attribute.Int("targets", len(targets)))
	r.emit(progress.Event{Stage: progress.StageTargets, Count: int64(len(targets))})
	r.logger.Info("targets selected", zap.Strings("targets", targets))
	return targets
}

func (r *runScope) generate(ctx context.Context, targets []string) (_ []studio.GeneratedContent, err error) {
	ctx, span := r.span(ctx, "pipeline.generate", attribute.StringSlice("subjects", targets))
	defer func() { endSpan(span, err) }()

	r.c.update(func(s *State) {
		s.Stage = StageGenerating
		s.Message = MsgGenerating
	})
	buffer, err := r.c.deps.Generator.GenerateAll(ctx, targets, func(i int) {
		if err := r.advance(i, targets[i], studio.StatusGenerating); err != nil {
			r.logger.Error("slot transition rejected", zap.Int("slot", i), zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	r.c.update(func(s *State) { s.Buffer = buffer })
	return buffer, nil
}

// renderAll captures every post in buffer order, one at a time, into a fresh
// bundle. Any failure discards the bundle.
func (r *runScope) renderAll(ctx context.Context, date string, buffer []studio.GeneratedContent) (*export.Bundle, error) {
	bundle := export.NewBundle(r.c.deps.Clock.Now())
	r.c.update(func(s *State) { s.Stage = StageRendering })
	for i, content := range buffer {
		if err := r.renderOne(ctx, i, date, content, bundle); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

func (r *runScope) renderOne(ctx context.Context, i int, date string, content studio.GeneratedContent, bundle *export.Bundle) (err error) {
	subject := content.OriginalBook
	ctx, span := r.span(ctx, "pipeline.render", attribute.String("subject", subject), attribute.Int("slot", i))
	defer func() { endSpan(span, err) }()

	if err := r.advance(i, subject, studio.StatusRendering); err != nil {
		return err
	}
	r.c.update(func(s *State) {
		s.RenderingIndex = i
		s.Message = MsgSampling(subject)
	})

	images, err := r.c.deps.Renderer.Render(ctx, content)
	if err != nil {
		return fmt.Errorf("render %s: %w", subject, err)
	}
	folder := export.FolderName(date, subject)
	if err := bundle.Add(folder, export.CoverName(subject), images.Cover); err != nil {
		return err
	}
	for j, img := range images.Quotes {
		if err := bundle.Add(folder, export.QuoteName(j), img); err != nil {
			return err
		}
	}
	if err := bundle.Add(folder, export.NotesName(subject), export.Notes(content.Title, content.FullContent)); err != nil {
		return err
	}
	r.emit(progress.Event{Stage: progress.StageImage, Slot: i, Subject: subject, Count: int64(images.Count())})
	return r.advance(i, subject, studio.StatusDone)
}

func (r *runScope) deliver(ctx context.Context, date string, bundle *export.Bundle) (_ export.Artifact, err error) {
	ctx, span := r.span(ctx, "pipeline.export")
	defer func() { endSpan(span, err) }()

	r.c.update(func(s *State) {
		s.Stage = StagePackaging
		s.Message = MsgPackaging
		s.RenderingIndex = -1
	})
	data, err := bundle.Bytes()
	if err != nil {
		return export.Artifact{}, err
	}
	art, err := r.c.deps.Deliverer.Deliver(ctx, export.ArchiveName(date), data)
	if err != nil {
		return export.Artifact{}, err
	}
	span.SetAttributes(attribute.String("archive", art.Name), attribute.Int("bytes", art.Size))
	r.emit(progress.Event{Stage: progress.StageExport, Subject: art.Name, Count: int64(art.Size)})
	return art, nil
}

// record appends one archive entry per completed post.
func (r *runScope) record(ctx context.Context, buffer []studio.GeneratedContent) (err error) {
	ctx, span := r.span(ctx, "pipeline.archive")
	defer func() { endSpan(span, err) }()

	for _, content := range buffer {
		if _, err := r.c.deps.Archive.Append(ctx, content.OriginalBook); err != nil {
			return fmt.Errorf("archive %s: %w", content.OriginalBook, err)
		}
	}
	return nil
}

func (r *runScope) publish(ctx context.Context, books []string, art export.Artifact) {
	if r.c.deps.Publisher == nil {
		return
	}
	payload := Completion{RunID: r.id, Books: books, Artifact: art}
	id, err := r.c.deps.Publisher.Publish(ctx, CompletedEvent, payload)
	if err != nil {
		r.logger.Warn("completion notice failed", zap.Error(err))
		return
	}
	r.logger.Debug("completion notice published", zap.String("message_id", id))
}
