package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/config"
	bioetlerrors "bioetl.dev/bioetl/errors"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/merge"
	"bioetl.dev/bioetl/pipeline"
	"bioetl.dev/bioetl/schema"
	"bioetl.dev/bioetl/source"
	"bioetl.dev/bioetl/source/chembl"
	"bioetl.dev/bioetl/source/crossref"
	"bioetl.dev/bioetl/source/iuphar"
	"bioetl.dev/bioetl/source/openalex"
	"bioetl.dev/bioetl/source/pubchem"
	"bioetl.dev/bioetl/source/pubmed"
	"bioetl.dev/bioetl/source/semanticscholar"
	"bioetl.dev/bioetl/source/uniprot"
	"bioetl.dev/bioetl/version"
	"bioetl.dev/bioetl/writer"
)

// idColumns names each entity's default input id column.
var idColumns = map[string]string{
	"activity": "activity_id",
	"assay":    "assay_chembl_id",
	"document": "document_chembl_id",
	"target":   "target_chembl_id",
	"testitem": "molecule_chembl_id",
}

// enrichmentSources lists, per entity, the optional sources layered on
// top of the ChEMBL baseline when enabled in configuration, together
// with the column their ids are drawn from.
var enrichmentSources = map[string][]struct{ name, idColumn string }{
	"document": {
		{"pubmed", "pmid"},
		{"crossref", "doi_clean"},
		{"openalex", "doi_clean"},
		{"semanticscholar", "doi_clean"},
	},
	"target": {
		{"uniprot", "uniprot_accession"},
		{"iuphar", "uniprot_accession"},
	},
	"testitem": {
		{"pubchem", "inchikey"},
	},
}

// runPipeline wires the configured adapters for entity and drives the
// four-stage run under a signal-cancelled context.
func runPipeline(parent context.Context, cfg *config.Config, entity string) error {
	setupLogging(cfg.Logging)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipelineVersion := cfg.Pipeline.Version
	if pipelineVersion == "" {
		pipelineVersion = version.GetPipelineVersion()
	}
	runCtx := common.RunContext{
		RunID:           uuid.NewString(),
		PipelineVersion: pipelineVersion,
		SourceSystem:    entity,
		ReleaseTag:      cfg.Pipeline.Release,
		StartedAtUTC:    time.Now().UTC(),
	}
	releaseSource := "status"
	if cfg.Pipeline.Release != "" {
		releaseSource = "cli"
	}

	registry := schema.NewRegistry()
	if err := schema.RegisterBuiltin(registry); err != nil {
		return err
	}

	ids, err := readIDs(filepath.Join(cfg.IO.Input.Dir, entity+".csv"), idColumn(cfg, entity))
	if err != nil {
		return err
	}

	adapters, sources, idCols, clients, err := buildAdapters(ctx, cfg, entity)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	desc := pipeline.Descriptor{
		Entity:          entity,
		SchemaVersion:   "latest",
		Sources:         sources,
		BusinessKey:     []string{idColumns[entity]},
		SortBy:          sortBy(cfg, entity),
		Ascending:       cfg.Determinism.Ascending,
		KeyColumn:       idColumns[entity],
		SourceIDColumns: idCols,
	}
	// Document enrichment reconciles per-field across sources keyed by
	// DOI; the other entities concatenate enrichment rows instead.
	// Literature sources outrank the baseline for bibliographic fields,
	// so the rule's source order lists them first.
	if entity == "document" && len(sources) > 1 {
		desc.KeyColumn = "doi_clean"
		ruleOrder := append(append([]string(nil), sources[1:]...), sources[0])
		desc.MergeRules = []common.MergeRule{{
			Entity:      entity,
			Strategy:    common.MergePreferSource,
			SourceOrder: ruleOrder,
		}}
		desc.FieldCandidates = map[string][]merge.Candidate{
			"title": {
				{Source: "pubmed", Column: "pubmed_title"},
				{Source: "crossref", Column: "crossref_title"},
				{Source: "semanticscholar", Column: "semanticscholar_title"},
				{Source: "openalex", Column: "openalex_title"},
				{Source: "chembl", Column: "title"},
			},
			"journal": {
				{Source: "pubmed", Column: "pubmed_journal"},
				{Source: "crossref", Column: "crossref_container_title"},
				{Source: "chembl", Column: "journal"},
			},
		}
	}

	settings := writer.DefaultSettings()
	if cfg.Determinism.FloatPrecision > 0 {
		settings.FloatPrecision = cfg.Determinism.FloatPrecision
	}
	if cfg.Determinism.NARepresentation != "" {
		settings.NARepresentation = cfg.Determinism.NARepresentation
	}
	if cfg.Determinism.DatetimeFormat != "" {
		settings.DatetimeFormat = cfg.Determinism.DatetimeFormat
	}
	reg, err := registry.Get(entity, "latest")
	if err != nil {
		return err
	}
	for _, col := range reg.Columns {
		if col == "hash_business_key" || col == "hash_row" {
			continue
		}
		settings.RowHashFields = append(settings.RowHashFields, col)
	}

	plan := buildPlan(cfg, entity)

	opts := pipeline.Options{
		Registry:          registry,
		RunContext:        runCtx,
		ReleaseSource:     releaseSource,
		Settings:          settings,
		Plan:              plan,
		SeverityThreshold: schema.Severity(strings.ToLower(cfg.Validation.SeverityThreshold)),
		Workers:           cfg.Runtime.Workers,
		BatchSize:         batchSize(cfg),
		DryRun:            cfg.Runtime.DryRun,
		Limit:             cfg.Runtime.Limit,
		Logger:            common.PipelineLogger(entity, runCtx.RunID),
	}

	p, err := pipeline.New(desc, adapters, ids, opts)
	if err != nil {
		return err
	}
	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	common.Logger.WithFields(logrus.Fields{
		"pipeline": entity,
		"run_id":   runCtx.RunID,
		"rows":     result.RowCount,
		"dataset":  plan.DatasetPath,
	}).Info("run complete")
	return nil
}

func idColumn(cfg *config.Config, entity string) string {
	if cfg.IO.Input.IDColumn != "" {
		return cfg.IO.Input.IDColumn
	}
	return idColumns[entity]
}

func sortBy(cfg *config.Config, entity string) []string {
	if len(cfg.Determinism.SortBy) > 0 {
		return cfg.Determinism.SortBy
	}
	return []string{idColumns[entity]}
}

func batchSize(cfg *config.Config) int {
	if src, ok := cfg.Sources["chembl"]; ok && src.BatchSize > 0 {
		return src.BatchSize
	}
	return 100
}

// buildPlan lays out the artifact paths for one run:
// <output>/<entity>/<entity>_<date_tag>.<ext> plus sidecars.
func buildPlan(cfg *config.Config, entity string) writer.Plan {
	dateTag := cfg.IO.Output.DateTag
	if dateTag == "" {
		dateTag = time.Now().UTC().Format("20060102")
	}
	format := cfg.IO.Output.Format
	if format == "" {
		format = "csv"
	}
	ext := format
	base := filepath.Join(cfg.IO.Output.Dir, entity, fmt.Sprintf("%s_%s", entity, dateTag))

	plan := writer.Plan{
		DatasetPath:  base + "." + ext,
		MetaPath:     base + "_meta.yaml",
		ChecksumPath: base + "_meta.sha256",
		QCPath:       base + "_qc.csv",
		Format:       format,
	}
	if cfg.Materialization.Correlation {
		plan.CorrelationPath = base + "_correlation.csv"
	}
	if cfg.Materialization.Summary {
		plan.SummaryPath = base + "_summary.csv"
	}
	return plan
}

// readIDs loads the id column from the entity's input CSV. Optional
// extra columns are ignored here and passed through by the transform.
func readIDs(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &bioetlerrors.ConfigError{Path: path, Reason: "cannot open input: " + err.Error()}
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &bioetlerrors.ConfigError{Path: path, Reason: "cannot parse input: " + err.Error()}
	}
	if len(rows) == 0 {
		return nil, &bioetlerrors.ConfigError{Path: path, Reason: "input is empty"}
	}

	colIdx := -1
	for i, name := range rows[0] {
		if strings.TrimSpace(name) == column {
			colIdx = i
			break
		}
	}
	if colIdx < 0 {
		return nil, &bioetlerrors.ConfigError{Path: path, Reason: "missing id column " + column}
	}

	var ids []string
	for _, row := range rows[1:] {
		if colIdx >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[colIdx])
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// buildAdapters constructs the adapter set for entity: the ChEMBL
// baseline (or its offline stub) plus every enabled enrichment source.
func buildAdapters(ctx context.Context, cfg *config.Config, entity string) (map[string]source.Adapter, []string, map[string]string, []*httpclient.Client, error) {
	adapters := make(map[string]source.Adapter)
	sources := []string{"chembl"}
	idCols := make(map[string]string)
	var clients []*httpclient.Client

	newClient := func(sourceName string, headers map[string]string) (*httpclient.Client, error) {
		profile := cfg.ProfileFor(sourceName)
		clientCfg, err := profile.ClientConfig(headers)
		if err != nil {
			return nil, err
		}
		if profile.Cache.Enabled && profile.Cache.Backend == "redis" {
			rc, err := httpclient.NewRedisCache(ctx, httpclient.RedisCacheConfig{RedisURL: profile.Cache.RedisURL})
			if err != nil {
				return nil, &bioetlerrors.ConfigError{Path: "http.profiles." + sourceName + ".cache", Reason: err.Error()}
			}
			clientCfg.Cache = rc
		}
		c := httpclient.New(clientCfg)
		clients = append(clients, c)
		return c, nil
	}

	if chembl.OfflineEnabled() {
		adapters["chembl"] = chembl.NewOffline(entity)
	} else {
		client, err := newClient("chembl", nil)
		if err != nil {
			return nil, nil, nil, clients, err
		}
		chemblCfg := cfg.Sources["chembl"]
		a, err := chembl.New(client, entity, chemblCfg.BatchSize, chemblCfg.MaxURLLength)
		if err != nil {
			return nil, nil, nil, clients, err
		}
		if cfg.Pipeline.Release != "" {
			a.SetRelease(cfg.Pipeline.Release)
		}
		adapters["chembl"] = a
	}

	for _, enrich := range enrichmentSources[entity] {
		src, ok := cfg.Sources[enrich.name]
		if !ok || !src.Enabled {
			continue
		}

		logSecret := func(key string) {
			common.Logger.WithFields(logrus.Fields{
				"source":  enrich.name,
				"api_key": common.MaskSecret(key),
			}).Debug("api key resolved")
		}

		var headers map[string]string
		switch enrich.name {
		case "semanticscholar":
			key := config.Secret(envOr(src.APIKeyEnv, "SEMANTIC_SCHOLAR_API_KEY"))
			logSecret(key)
			if key != "" {
				headers = map[string]string{"x-api-key": key}
			}
		case "iuphar":
			key := config.Secret(envOr(src.APIKeyEnv, "IUPHAR_API_KEY"))
			logSecret(key)
			if key != "" {
				headers = map[string]string{"x-api-key": key}
			}
		}

		client, err := newClient(enrich.name, headers)
		if err != nil {
			return nil, nil, nil, clients, err
		}

		var adapter source.Adapter
		switch enrich.name {
		case "pubmed":
			email := config.Secret(envOr(src.EmailEnv, "PUBMED_EMAIL"))
			apiKey := config.Secret(envOr(src.APIKeyEnv, "PUBMED_API_KEY"))
			logSecret(apiKey)
			adapter = pubmed.New(client, src.BatchSize, email, apiKey)
		case "crossref":
			mailto := config.Secret(envOr(src.MailtoEnv, "CROSSREF_MAILTO"))
			adapter = crossref.New(client, mailto)
		case "openalex":
			adapter = openalex.New(client, src.BatchSize, src.PerPage)
		case "semanticscholar":
			apiKey := config.Secret(envOr(src.APIKeyEnv, "SEMANTIC_SCHOLAR_API_KEY"))
			adapter = semanticscholar.New(client, apiKey)
		case "uniprot":
			interval := time.Duration(src.PollIntervalSec * float64(time.Second))
			adapter = uniprot.New(client, src.BatchSize, interval, src.PollMaxRounds)
		case "iuphar":
			var dict *iuphar.Dictionary
			switch {
			case src.Dictionary != "":
				d, err := iuphar.LoadDictionaryFile(src.Dictionary)
				if err != nil {
					return nil, nil, nil, clients, &bioetlerrors.ConfigError{Path: "sources.iuphar.dictionary", Reason: err.Error()}
				}
				dict = d
			case src.DictionaryURL != "":
				raw := httpclient.NewRawClient(time.Minute, 3)
				d, err := iuphar.DownloadDictionary(ctx, raw, src.DictionaryURL)
				if err != nil {
					return nil, nil, nil, clients, &bioetlerrors.ConfigError{Path: "sources.iuphar.dictionary_url", Reason: err.Error()}
				}
				dict = d
			}
			adapter = iuphar.New(client, dict)
		case "pubchem":
			adapter = pubchem.New(client)
		}

		adapters[enrich.name] = adapter
		sources = append(sources, enrich.name)
		idCols[enrich.name] = enrich.idColumn
	}

	return adapters, sources, idCols, clients, nil
}

func envOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// setupLogging applies the logging section to the shared logger.
func setupLogging(lc config.LoggingConfig) {
	if level, err := logrus.ParseLevel(lc.Level); err == nil {
		common.Logger.SetLevel(level)
	}
	if lc.Format == "json" {
		common.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
}
