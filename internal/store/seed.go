package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/arogya/internal/domain"
)

// ReferenceRemedies returns the built-in remedy set used to seed an empty database.
func ReferenceRemedies() []domain.Remedy {
	return []domain.Remedy{
		{
			PlantName:       "Digestive Issues",
			Symptoms:        "Bloating, Gas, Indigestion, Stomach pain",
			Herbs:           "Triphala, Ginger, Cumin, Fennel",
			Recommendations: "1. Take ginger tea before meals\n2. Use cumin in cooking\n3. Avoid heavy meals at night",
			Precautions:     domain.StringPtr("Consult doctor if symptoms persist for more than a week"),
		},
		{
			PlantName:       "Stress and Anxiety",
			Symptoms:        "Restlessness, Insomnia, Mental tension, Worry",
			Herbs:           "Ashwagandha, Brahmi, Jatamansi, Holy Basil",
			Recommendations: "1. Take Ashwagandha before bed\n2. Practice meditation\n3. Regular exercise",
			Precautions:     domain.StringPtr("Not recommended during pregnancy"),
		},
		{
			PlantName:       "Headache",
			Symptoms:        "Head pain, Tension, Migraine",
			Herbs:           "Brahmi, Shankhpushpi, Jatamansi",
			Recommendations: "1. Apply diluted peppermint oil\n2. Rest in a dark room\n3. Stay hydrated",
			Precautions:     domain.StringPtr("Seek immediate help if accompanied by vision changes"),
		},
		{
			PlantName:       "Joint Pain",
			Symptoms:        "Stiffness, Inflammation, Reduced mobility",
			Herbs:           "Turmeric, Guggulu, Ginger, Boswellia",
			Recommendations: "1. Take turmeric with black pepper\n2. Gentle yoga\n3. Warm oil massage",
			Precautions:     domain.StringPtr("Avoid if on blood thinners"),
		},
		{
			PlantName:       "Respiratory Issues",
			Symptoms:        "Cough, Cold, Congestion, Breathing difficulty",
			Herbs:           "Tulsi, Ginger, Mulethi, Pippali",
			Recommendations: "1. Steam inhalation with tulsi\n2. Ginger-honey tea\n3. Rest and hydration",
			Precautions:     domain.StringPtr("Seek help if breathing becomes difficult"),
		},
		{
			PlantName:       "Sleep Problems",
			Symptoms:        "Insomnia, Restlessness, Poor sleep quality",
			Herbs:           "Ashwagandha, Jatamansi, Brahmi, Shankhpushpi",
			Recommendations: "1. Take herbs 1 hour before bed\n2. Follow sleep hygiene\n3. Avoid screens",
			Precautions:     domain.StringPtr("Not recommended with sleeping pills"),
		},
	}
}

// SeedIfEmpty inserts the reference remedies when the remedies table is empty.
// It returns the number of rows inserted.
func SeedIfEmpty(ctx context.Context, w RemedyWriter) (int, error) {
	n, err := w.CountRemedies(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	if n > 0 {
		slog.Debug("Remedies already present, skipping seed", "count", n)
		return 0, nil
	}
	inserted, err := w.InsertRemedies(ctx, ReferenceRemedies())
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	slog.Info("Seeded reference remedies", "count", inserted)
	return inserted, nil
}
