package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/embeddings"
	"github.com/earshot-ai/earshot/pkg/provider/intent"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// engine kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	vad        map[string]func(ProviderEntry) (vad.Scorer, error)
	wake       map[string]func(ProviderEntry) (wake.Chain, error)
	stt        map[string]func(ProviderEntry) (stt.Transcriber, error)
	intent     map[string]func(ProviderEntry) (intent.Engine, error)
	tts        map[string]func(ProviderEntry) (tts.Synthesizer, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
	audio      map[string]func(ProviderEntry) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:        make(map[string]func(ProviderEntry) (vad.Scorer, error)),
		wake:       make(map[string]func(ProviderEntry) (wake.Chain, error)),
		stt:        make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		intent:     make(map[string]func(ProviderEntry) (intent.Engine, error)),
		tts:        make(map[string]func(ProviderEntry) (tts.Synthesizer, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		audio:      make(map[string]func(ProviderEntry) (audio.Source, error)),
	}
}

// RegisterVAD registers a VAD scorer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Scorer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterWake registers a wake-word chain factory under name.
func (r *Registry) RegisterWake(name string, factory func(ProviderEntry) (wake.Chain, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterIntent registers an intent engine factory under name.
func (r *Registry) RegisterIntent(name string, factory func(ProviderEntry) (intent.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intent[name] = factory
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterAudio registers an audio source factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateVAD builds the VAD scorer selected by entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Scorer, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateWake builds the wake-word chain selected by entry.Name.
func (r *Registry) CreateWake(entry ProviderEntry) (wake.Chain, error) {
	r.mu.RLock()
	factory, ok := r.wake[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wake %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT builds the transcriber selected by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateIntent builds the intent engine selected by entry.Name.
func (r *Registry) CreateIntent(entry ProviderEntry) (intent.Engine, error) {
	r.mu.RLock()
	factory, ok := r.intent[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: intent %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS builds the synthesizer selected by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings builds the embeddings provider selected by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio builds the audio source selected by entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
