package store

import (
	"context"
	"fmt"
)

// ServiceByName looks up a Service by its unique name. It returns (nil, nil)
// if no such service exists, so callers (the Ventilator's services cache in
// particular) can distinguish "not found" from a store error.
func (s *Store) ServiceByName(ctx context.Context, name string) (*Service, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, version, input_format, output_format, input_converter, complex
		 FROM services WHERE name = $1`, name)
	var svc Service
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Version, &svc.InputFormat, &svc.OutputFormat,
		&svc.InputConverter, &svc.Complex); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("service_by_name: %w", err)
	}
	return &svc, nil
}

// CorpusByName looks up a Corpus by its unique name.
func (s *Store) CorpusByName(ctx context.Context, name string) (*Corpus, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, path, complex, description FROM corpora WHERE name = $1`, name)
	var c Corpus
	if err := row.Scan(&c.ID, &c.Name, &c.Path, &c.Complex, &c.Description); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("corpus_by_name: %w", err)
	}
	return &c, nil
}
