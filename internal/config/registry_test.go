package config

import (
	"errors"
	"testing"

	"github.com/earshot-ai/earshot/pkg/provider/vad"
	vadmock "github.com/earshot-ai/earshot/pkg/provider/vad/mock"
)

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry()
	r.RegisterVAD("mock", func(entry ProviderEntry) (vad.Scorer, error) {
		return vadmock.NewScorer(), nil
	})

	scorer, err := r.CreateVAD(ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if scorer == nil {
		t.Fatal("CreateVAD returned nil scorer")
	}
}

func TestRegistryNotRegistered(t *testing.T) {
	r := NewRegistry()

	_, err := r.CreateVAD(ProviderEntry{Name: "missing"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	_, err = r.CreateIntent(ProviderEntry{Name: "missing"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryOverwrite(t *testing.T) {
	r := NewRegistry()
	r.RegisterVAD("mock", func(ProviderEntry) (vad.Scorer, error) {
		return nil, errors.New("first")
	})
	r.RegisterVAD("mock", func(ProviderEntry) (vad.Scorer, error) {
		return vadmock.NewScorer(), nil
	})

	if _, err := r.CreateVAD(ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateVAD after overwrite: %v", err)
	}
}
