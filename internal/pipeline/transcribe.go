package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
)

// Audio tracks above this size are not worth a transcription run.
const maxAudioBytes = 500 * 1024 * 1024

// Transcriber runs the video-transcription stage: audio download, then a
// speech model pass, with both artifacts landing in the bronze store. The
// row status tracks which half an item is in, so a run that died mid-item
// resumes at the right point and the cached audio is reused.
type Transcriber struct {
	repo       eddy.ContentRepo
	store      *bronze.Store
	downloader eddy.AudioDownloader
}

func NewTranscriber(repo eddy.ContentRepo, store *bronze.Store, downloader eddy.AudioDownloader) *Transcriber {
	return &Transcriber{
		repo:       repo,
		store:      store,
		downloader: downloader,
	}
}

// RunBatch works up to limit transcribable items through the model. A
// failure on one item marks that row failed and moves on.
func (t *Transcriber) RunBatch(ctx context.Context, model eddy.SpeechModel, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = defaultBatchSize
	}
	batch, err := t.repo.TranscribableContent(ctx, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("error listing transcribable content: %w", err)
	}

	var res BatchResult
	for _, item := range batch {
		res.Processed++

		if err := t.transcribeOne(ctx, model, item); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			slog.Warn("transcription failed", "content_id", item.ContentID, "video_id", item.VideoID, "err", err)
			if markErr := t.repo.MarkTranscriptionFailed(ctx, item.ContentID, err.Error()); markErr != nil {
				return res, fmt.Errorf("error marking transcription failed: %w", markErr)
			}
			res.Failed++
			continue
		}
		res.Succeeded++
	}

	return res, nil
}

func (t *Transcriber) transcribeOne(ctx context.Context, model eddy.SpeechModel, item eddy.TranscribableItem) error {
	if err := t.repo.MarkTranscriptionDownloading(ctx, item.ContentID); err != nil {
		return fmt.Errorf("error marking downloading: %w", err)
	}

	audioKey := audioKey(item.VideoID)
	audioPath := t.store.Path(audioKey)
	if !t.store.Exists(audioKey) {
		if err := t.downloadAudio(ctx, item.VideoID, audioKey); err != nil {
			return fmt.Errorf("error downloading audio: %w", err)
		}
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return fmt.Errorf("error statting audio: %w", err)
	}
	if info.Size() > maxAudioBytes {
		return fmt.Errorf("audio track is %d bytes, over the %d byte cap", info.Size(), maxAudioBytes)
	}

	if err := t.repo.MarkTranscriptionTranscribing(ctx, item.ContentID); err != nil {
		return fmt.Errorf("error marking transcribing: %w", err)
	}

	raw, err := bronze.Through(ctx, t.store, transcriptKey(item.VideoID, model), func(ctx context.Context) ([]byte, error) {
		tr, err := model.Transcribe(ctx, audioPath)
		if err != nil {
			return nil, err
		}
		return json.Marshal(tr)
	})
	if err != nil {
		return fmt.Errorf("error running speech model: %w", err)
	}

	var tr eddy.Transcript
	if err := json.Unmarshal(raw, &tr); err != nil {
		return fmt.Errorf("error decoding cached transcript: %w", err)
	}

	if err := t.repo.MarkTranscriptionCompleted(ctx, item.ContentID, tr.Text, tr.Language); err != nil {
		return fmt.Errorf("error marking completed: %w", err)
	}
	return nil
}

// downloadAudio runs the downloader against a scratch dir and renames the
// result into the bronze store. The track only ever exists on disk.
func (t *Transcriber) downloadAudio(ctx context.Context, videoID string, key bronze.Key) error {
	scratch, err := t.store.Scratch("audio-*")
	if err != nil {
		return fmt.Errorf("error creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	srcPath, err := t.downloader.Download(ctx, videoID, scratch)
	if err != nil {
		return err
	}
	if err := t.store.Adopt(key, srcPath); err != nil {
		return fmt.Errorf("error storing audio: %w", err)
	}
	return nil
}

func audioKey(videoID string) bronze.Key {
	return bronze.Key{
		SourceType: "youtube",
		ExternalID: videoID,
		Artifact:   "audio",
		Ext:        "opus",
	}
}

// transcriptKey folds the model id and parameters into the artifact name, so
// a different model or settings produces a new artifact instead of shadowing
// the old one.
func transcriptKey(videoID string, model eddy.SpeechModel) bronze.Key {
	sum := sha256.Sum256([]byte(model.Params()))
	return bronze.Key{
		SourceType: "youtube",
		ExternalID: videoID,
		Artifact:   fmt.Sprintf("transcript-%s-%s", model.ID(), hex.EncodeToString(sum[:])[:8]),
		Ext:        "json",
	}
}
