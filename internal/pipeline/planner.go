package pipeline

import (
	"errors"
	"fmt"
	"time"

	"costwatch/internal/models"
)

// ErrInvalidRange — планируемый диапазон дат некорректен.
var ErrInvalidRange = errors.New("invalid date range")

// PlanChunks splits an inclusive date range into one chunk per
// calendar month, with the first and last chunk clipped to the
// requested boundaries. The billing API rejects windows longer than
// about a month, so larger ranges must be fetched chunk by chunk.
func PlanChunks(start, end time.Time) ([]models.SyncChunk, error) {
	start = truncateToDay(start)
	end = truncateToDay(end)

	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s",
			ErrInvalidRange, end.Format(models.DateLayout), start.Format(models.DateLayout))
	}

	var chunks []models.SyncChunk
	cursor := start
	for !cursor.After(end) {
		monthEnd := endOfMonth(cursor)
		chunkEnd := monthEnd
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		chunks = append(chunks, models.SyncChunk{
			Index:      len(chunks),
			Label:      cursor.Format("2006-01"),
			RangeStart: cursor,
			RangeEnd:   chunkEnd,
			Status:     models.StatusPending,
		})

		cursor = monthEnd.AddDate(0, 0, 1)
	}

	return chunks, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}
