package conversion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nhcx/fhir-converter/internal/platform/hl7v2"
	"github.com/nhcx/fhir-converter/internal/platform/telemetry"
)

// Service orchestrates the conversion pipeline: hash, dedup lookup, parse,
// extract, build, persist. Every attempt leaves a Record behind.
type Service struct {
	repo    Repository
	builder *Builder
	logger  zerolog.Logger
	tele    *telemetry.TelemetryProvider
}

// NewService wires the orchestrator to a Repository.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, builder: NewBuilder(), logger: logger}
}

// SetTelemetry attaches the metrics provider. Safe to skip in tests and the
// one-shot CLI.
func (s *Service) SetTelemetry(tp *telemetry.TelemetryProvider) { s.tele = tp }

// ContentHash returns the lowercase hex SHA-256 of the trimmed message.
// Leading and trailing whitespace does not change identity; internal
// whitespace does.
func ContentHash(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// Convert turns one raw HL7 v2 message into the FHIR bundle document.
//
// An identical message that already converted successfully is not converted
// again: the stored document comes back verbatim, with no new record and no
// new timestamp. Failed attempts are recorded with the failure reason and
// returned as errors; the caller never sees a partial document.
func (s *Service) Convert(ctx context.Context, rawHL7 string) (string, error) {
	hash := ContentHash(rawHL7)
	log := s.logger.With().Str("hl7_hash", hash).Logger()
	s.count("attempted")

	existing, err := s.repo.GetByHash(ctx, hash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("conversion: look up record: %w", err)
	}
	if existing != nil && existing.Succeeded() {
		log.Info().Msg("duplicate message, replaying stored document")
		s.count("deduplicated")
		return *existing.FHIRJSON, nil
	}

	rec := &Record{HL7Hash: hash, RawHL7: rawHL7}

	pid, err := hl7v2.ParsePID(rawHL7)
	if err != nil {
		return "", s.fail(ctx, log, rec, err)
	}
	log.Debug().Msg("parsed PID segment")

	patient := ExtractPatient(pid)
	doc, err := s.builder.Render(patient)
	if err != nil {
		return "", s.fail(ctx, log, rec, err)
	}
	log.Debug().Str("patient_id", patient.Identifier).Msg("built bundle document")

	rec.FHIRJSON = &doc
	rec.Status = StatusSuccess
	if err := s.repo.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("conversion: persist record: %w", err)
	}

	// A concurrent identical submit may have won the insert; the stored
	// document is the one every replay must see, so prefer it.
	if stored, err := s.repo.GetByHash(ctx, hash); err == nil && stored.Succeeded() {
		doc = *stored.FHIRJSON
	}

	s.count("succeeded")
	log.Info().Msg("conversion stored")
	return doc, nil
}

// fail records a failed attempt and returns the cause, wrapped so callers
// can still branch on sentinels like hl7v2.ErrNoPIDSegment.
func (s *Service) fail(ctx context.Context, log zerolog.Logger, rec *Record, cause error) error {
	msg := cause.Error()
	rec.Status = StatusError
	rec.ErrorMessage = &msg
	if err := s.repo.Create(ctx, rec); err != nil {
		log.Error().Err(err).Msg("could not persist error record")
		return fmt.Errorf("conversion: persist error record: %w", err)
	}
	s.count("failed")
	log.Warn().Err(cause).Msg("conversion failed")
	return fmt.Errorf("conversion: %w", cause)
}

// History returns past conversion attempts, newest first, with the total
// count for pagination.
func (s *Service) History(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// GetByHash returns a single record by content hash.
func (s *Service) GetByHash(ctx context.Context, hash string) (*Record, error) {
	return s.repo.GetByHash(ctx, hash)
}

func (s *Service) count(outcome string) {
	if s.tele != nil {
		s.tele.ConversionCounter(outcome)
	}
}
