// Package replace installs new pixel data into every on-disk copy of a
// texture.
//
// A replacement runs in two phases. The first opens and parses every
// location and plans its mip chain without touching any file. The second
// writes archive payloads and stages export data in the package cache.
// Nothing reaches the packages until Commit.
package replace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goopsie/metexpatch/pkg/codec"
	"github.com/goopsie/metexpatch/pkg/compression"
	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/journal"
	"github.com/goopsie/metexpatch/pkg/manifest"
	"github.com/goopsie/metexpatch/pkg/pcc"
	"github.com/goopsie/metexpatch/pkg/texture"
	"github.com/goopsie/metexpatch/pkg/tfc"
	"github.com/hashicorp/go-hclog"
)

var (
	// ErrNotTexture indicates a location whose export is not a texture.
	ErrNotTexture = fmt.Errorf("export is not a texture: %w", errs.ErrPrecondition)

	// ErrNoLocations indicates a job without locations.
	ErrNoLocations = fmt.Errorf("no locations: %w", errs.ErrPrecondition)

	// ErrNoneReplaced indicates that every location of a job was skipped.
	ErrNoneReplaced = fmt.Errorf("no location replaced: %w", errs.ErrIO)

	// ErrPartialCommit indicates that some packages were saved before a
	// save failed. The journal is kept so the archives can still be rolled
	// back, but the saved packages cannot.
	ErrPartialCommit = errors.New("commit partially applied")
)

// Location is one on-disk instance of a texture.
type Location struct {
	PackagePath string
	Export      int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.PackagePath, l.Export)
}

// Skipped is a location left out of a replacement.
type Skipped struct {
	Location Location
	Err      error
}

// Report describes the outcome of one replacement.
type Report struct {
	Replaced []Location
	Skipped  []Skipped

	// Archives lists archive files created for this replacement.
	Archives []string
}

// Job is one logical texture and its locations.
type Job struct {
	Name      string
	Source    *codec.SourceImage
	Locations []Location
}

// Result is the outcome of one job of a batch.
type Result struct {
	Job    string
	Report *Report
	Err    error
}

// Engine drives replacements against a package cache and an archive store.
type Engine struct {
	cache      *pcc.Cache
	store      *tfc.Store
	journal    *journal.Journal
	toc        *manifest.Updater
	compressor codec.Compressor
	convert    bool
	logger     hclog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal rolls back archive writes through j on Abort and clears it
// on Commit. The same journal should be the store's recorder.
func WithJournal(j *journal.Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithTOC refreshes table of contents files on Commit.
func WithTOC(u *manifest.Updater) Option {
	return func(e *Engine) {
		e.toc = u
	}
}

// WithCompressor sets the block compressor used for conversions.
func WithCompressor(c codec.Compressor) Option {
	return func(e *Engine) {
		e.compressor = c
	}
}

// WithConversion converts source images to each texture's pixel format
// and generates missing mipmaps instead of rejecting them.
func WithConversion(enabled bool) Option {
	return func(e *Engine) {
		e.convert = enabled
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger hclog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine.
func New(cache *pcc.Cache, store *tfc.Store, opts ...Option) *Engine {
	e := &Engine{
		cache:      cache,
		store:      store,
		compressor: codec.DefaultCompressor,
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// target is a validated location ready for the write phase.
type target struct {
	loc         Location
	pkg         *pcc.Package
	tex         *texture.Texture
	chain       *codec.SourceImage
	archiveName string
	archivePath string
	archiveGUID [16]byte
	hasArchive  bool
}

// Mips are keyed by the identity of their raw data so that only content
// shared between locations is reused.
type payloadKey struct {
	data        *byte
	compression texture.Compression
	width       int
	height      int
}

type sourceKey struct {
	format  codec.PixelFormat
	mipmaps bool
}

type placementKey struct {
	data    *byte
	path    string
	guid    [16]byte
	width   int
	height  int
	storage texture.Storage
}

// Replace installs src at every location. Locations that cannot be read
// are skipped and listed in the report. Any other failure aborts the whole
// texture: locations already written are unstaged and their journaled
// archive writes undone, so a failed call leaves nothing for Commit.
func (e *Engine) Replace(ctx context.Context, src *codec.SourceImage, locations []Location) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return nil, ErrNoLocations
	}
	if src == nil || src.Top() == nil {
		return nil, fmt.Errorf("%w: empty source image", codec.ErrBufferSize)
	}

	report := &Report{}
	converted := make(map[sourceKey]*codec.SourceImage)

	var targets []*target
	for _, loc := range locations {
		t, err := e.validate(loc, src, converted)
		if err != nil {
			if errs.Skippable(err) {
				e.logger.Warn("location skipped", "location", loc.String(), "error", err)
				report.Skipped = append(report.Skipped, Skipped{Location: loc, Err: err})
				continue
			}
			return report, fmt.Errorf("%s: %w", loc, err)
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return report, ErrNoneReplaced
	}

	undo, err := e.checkpoint(targets)
	if err != nil {
		return report, err
	}
	payloads := make(map[payloadKey][]byte)
	placements := make(map[placementKey]uint32)
	for _, t := range targets {
		if err := e.write(t, payloads, placements, report); err != nil {
			err = fmt.Errorf("%s: %w", t.loc, err)
			if uerr := undo(); uerr != nil {
				e.logger.Error("texture rollback failed", "location", t.loc.String(), "error", uerr)
				return report, errors.Join(err, uerr)
			}
			e.logger.Debug("texture rolled back", "replaced", len(report.Replaced))
			report.Replaced, report.Archives = nil, nil
			return report, err
		}
		report.Replaced = append(report.Replaced, t.loc)
		e.logger.Debug("location replaced", "location", t.loc.String(), "mips", len(t.tex.Mips))
	}

	e.logger.Info("texture replaced", "locations", len(report.Replaced), "skipped", len(report.Skipped))
	return report, nil
}

// checkpoint captures the staged state of every target package and the
// journal end. The returned func restores both.
func (e *Engine) checkpoint(targets []*target) (func() error, error) {
	snapshots := make(map[*pcc.Package]pcc.Snapshot)
	for _, t := range targets {
		if _, ok := snapshots[t.pkg]; !ok {
			snapshots[t.pkg] = t.pkg.Snapshot()
		}
	}
	var mark journal.Mark
	if e.journal != nil {
		var err error
		if mark, err = e.journal.Mark(); err != nil {
			return nil, err
		}
	}

	return func() error {
		for pkg, snap := range snapshots {
			pkg.Restore(snap)
		}
		defer e.store.Purge()
		if e.journal == nil {
			return nil
		}
		return e.journal.RollbackTo(mark)
	}, nil
}

// validate opens, parses and plans one location without side effects on
// disk.
func (e *Engine) validate(loc Location, src *codec.SourceImage, converted map[sourceKey]*codec.SourceImage) (*target, error) {
	pkg, err := e.cache.Open(loc.PackagePath)
	if err != nil {
		return nil, err
	}
	class, err := pkg.ClassName(loc.Export)
	if err != nil {
		return nil, err
	}
	if !isTextureClass(class) {
		return nil, fmt.Errorf("%w: class %s", ErrNotTexture, class)
	}
	data, err := pkg.ExportData(loc.Export)
	if err != nil {
		return nil, err
	}
	tex, err := texture.Parse(data, pkg, pkg.Game())
	if err != nil {
		return nil, err
	}

	t := &target{loc: loc, pkg: pkg, tex: tex}
	var read texture.ExternalReader
	if name, ok := tex.ArchiveName(); ok {
		t.archiveName = name
		t.archivePath = e.store.ResolvePath(name, pkg.Path())
		t.archiveGUID, _ = tex.ArchiveGUID()
		if _, err := e.store.Size(t.archivePath); err == nil {
			t.hasArchive = true
			read = e.store.Reader(t.archivePath)
		} else if tex.HasExternal() {
			return nil, err
		}
	}

	src, err = e.source(tex, src, converted)
	if err != nil {
		return nil, err
	}
	t.chain, err = texture.SelectMips(tex, src, read)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// source adapts src to tex when conversion is enabled. Conversions are
// shared between locations of the same format.
func (e *Engine) source(tex *texture.Texture, src *codec.SourceImage, converted map[sourceKey]*codec.SourceImage) (*codec.SourceImage, error) {
	if !e.convert {
		return src, nil
	}
	format, err := tex.PixelFormat()
	if err != nil {
		return nil, err
	}

	mips := 0
	for _, m := range tex.Mips {
		if !m.Storage.Empty {
			mips++
		}
	}
	key := sourceKey{format: format, mipmaps: mips > 1 && len(src.Mips) <= 1}
	if out, ok := converted[key]; ok {
		return out, nil
	}

	out := src
	if src.Format != format {
		if out, err = src.ConvertTo(format, e.compressor); err != nil {
			return nil, err
		}
		e.logger.Debug("source converted", "from", src.Format.String(), "to", format.String())
	}
	if key.mipmaps {
		if out, err = out.GenerateMipmaps(e.compressor); err != nil {
			return nil, err
		}
		e.logger.Debug("mipmaps generated", "mips", len(out.Mips))
	}
	converted[key] = out
	return out, nil
}

// write stores the planned chain of t and stages the new export data.
func (e *Engine) write(t *target, payloads map[payloadKey][]byte, placements map[placementKey]uint32, report *Report) error {
	planned := texture.ResolveStorage(t.tex, t.chain, t.archivePath)

	var bound int64
	for _, p := range planned {
		if !p.Storage.IsExternal() {
			continue
		}
		if p.Storage.Compression == texture.Uncompressed {
			bound += int64(len(p.Image.Data))
		} else {
			bound += int64(compression.ChunkedBound(len(p.Image.Data)))
		}
	}

	var ref tfc.Ref
	if bound > 0 {
		hint := tfc.Ref{Name: t.archiveName, GUID: t.archiveGUID}
		if t.hasArchive {
			hint.Path = t.archivePath
		}
		var err error
		ref, err = e.store.Reserve(hint, bound)
		if err != nil {
			return err
		}
		if ref.Created {
			report.Archives = append(report.Archives, ref.Path)
		}
		if ref.Path != hint.Path || ref.GUID != hint.GUID {
			if err := t.tex.SetArchive(ref.Name, ref.GUID); err != nil {
				return err
			}
			e.logger.Info("texture bound to archive", "location", t.loc.String(), "archive", ref.Name)
			planned = texture.ResolveStorage(t.tex, t.chain, ref.Path)
		}
	}

	mips := make([]*texture.MipMap, 0, len(planned))
	for _, p := range planned {
		raw := p.Image.Data
		stored := raw
		if p.Storage.Compression != texture.Uncompressed {
			pk := payloadKey{data: dataID(raw), compression: p.Storage.Compression, width: p.Image.Width, height: p.Image.Height}
			var ok bool
			if stored, ok = payloads[pk]; !ok {
				var err error
				if stored, err = texture.CompressPayload(raw, p.Storage); err != nil {
					return err
				}
				payloads[pk] = stored
			}
		}

		m := &texture.MipMap{
			Width:            p.Image.Width,
			Height:           p.Image.Height,
			Storage:          p.Storage,
			UncompressedSize: len(raw),
			CompressedSize:   len(stored),
		}
		if p.Storage.IsExternal() {
			offset, err := e.place(ref, p, stored, t.archiveGUID, placements)
			if err != nil {
				return err
			}
			m.DataOffset = offset
		} else {
			m.Payload = stored
		}
		mips = append(mips, m)
	}

	if err := t.tex.ReplaceMips(mips); err != nil {
		return err
	}
	size, err := t.tex.EncodedSize(t.pkg)
	if err != nil {
		return err
	}
	offset, err := t.pkg.PlanExportOffset(t.loc.Export, size)
	if err != nil {
		return err
	}
	data, err := t.tex.Encode(t.pkg, offset)
	if err != nil {
		return err
	}
	return t.pkg.SetExportData(t.loc.Export, data)
}

// place writes one external payload, reusing an earlier placement of the
// same mip in the same archive.
func (e *Engine) place(ref tfc.Ref, p texture.Planned, stored []byte, priorGUID [16]byte, placements map[placementKey]uint32) (uint32, error) {
	key := placementKey{data: dataID(p.Image.Data), path: ref.Path, guid: ref.GUID, width: p.Image.Width, height: p.Image.Height, storage: p.Storage}
	if offset, ok := placements[key]; ok {
		return offset, nil
	}

	var prior *tfc.Prior
	if p.Prior != nil && p.Prior.Storage.IsExternal() {
		prior = &tfc.Prior{
			GUID:           priorGUID,
			Offset:         p.Prior.DataOffset,
			CompressedSize: p.Prior.CompressedSize,
		}
	}
	offset, err := e.store.Place(ref, stored, prior)
	if err != nil {
		return 0, err
	}
	placements[key] = offset
	return offset, nil
}

// ReplaceBatch runs every job in order. A failed job is recorded in its
// result and leaves nothing staged. Cancellation is checked between jobs.
func (e *Engine) ReplaceBatch(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		report, err := e.Replace(ctx, job.Source, job.Locations)
		if err != nil {
			e.logger.Error("texture failed", "job", job.Name, "kind", errs.KindOf(err), "error", err)
		}
		results = append(results, Result{Job: job.Name, Report: report, Err: err})
	}
	return results, nil
}

// Commit saves every staged package, refreshes table of contents files and
// clears the journal.
func (e *Engine) Commit(ctx context.Context) error {
	saved, err := e.cache.SaveAll()
	if err != nil {
		if len(saved) > 0 {
			return fmt.Errorf("%w: %d packages saved: %w", ErrPartialCommit, len(saved), err)
		}
		return err
	}

	if e.toc != nil {
		updated, err := e.toc.Update(ctx)
		switch {
		case err != nil && errs.Skippable(err):
			e.logger.Warn("table of contents skipped", "error", err)
		case err != nil:
			return err
		}
		e.logger.Debug("tables of contents updated", "count", len(updated))
	}

	if e.journal != nil {
		if err := e.journal.Commit(); err != nil {
			return err
		}
	}
	e.logger.Info("changes committed", "packages", len(saved))
	return nil
}

// Abort drops every staged package and undoes journaled archive writes.
func (e *Engine) Abort() error {
	e.cache.Discard()
	defer e.store.Purge()
	if e.journal == nil {
		return nil
	}
	if err := e.journal.Rollback(); err != nil {
		return err
	}
	e.logger.Info("changes rolled back")
	return nil
}

func isTextureClass(class string) bool {
	switch class {
	case "Texture2D", "LightMapTexture2D", "ShadowMapTexture2D", "TextureFlipBook", "TerrainWeightMapTexture":
		return true
	}
	return strings.HasSuffix(class, "Texture2D")
}

func dataID(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}
