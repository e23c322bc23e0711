// Command ragqa builds a local document index and answers questions
// grounded strictly in that index.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragqa/internal/config"
	"ragqa/internal/decider"
	"ragqa/internal/embedding"
	"ragqa/internal/generator"
	"ragqa/internal/indexer"
	"ragqa/internal/logger"
	"ragqa/internal/pipeline"
	"ragqa/internal/retriever"
	"ragqa/internal/tui"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg *config.Config
	log *zap.Logger
}

func rootCmd() *cobra.Command {
	var configPath string
	a := &app{}

	root := &cobra.Command{
		Use:           "ragqa",
		Short:         "Grounded question answering over a local document corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	root.AddCommand(indexCmd(a), askCmd(a), retrieveCmd(a), chatCmd(a))
	return root
}

func indexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Chunk, embed and index the document corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireAPIKey(); err != nil {
				return err
			}
			emb := a.embedder()
			stats, err := indexer.Build(cmd.Context(), indexer.Config{
				DocsDir:        a.cfg.Docs.DocsDir,
				ArtifactDir:    a.cfg.Docs.ArtifactDir,
				ChunkSizeChars: a.cfg.Chunking.ChunkSizeChars,
				OverlapChars:   a.cfg.Chunking.OverlapChars,
			}, emb, a.log)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d documents into %d chunks in %.1fs (embed cost $%.6f)\n",
				stats.Documents, stats.Chunks, stats.BuildTimeSec, stats.EmbedCostUSD)
			return nil
		},
	}
}

func askCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the response as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			resp := p.Answer(cmd.Context(), args[0])
			data, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func retrieveCmd(a *app) *cobra.Command {
	var topK int
	var minScore float64

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Search the index and print the raw hits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireAPIKey(); err != nil {
				return err
			}
			if cmd.Flags().Changed("top-k") {
				a.cfg.Retrieval.TopK = topK
			}
			if cmd.Flags().Changed("min-score") {
				a.cfg.Retrieval.MinScore = minScore
			}
			ret, err := retriever.Open(a.embedder(), a.cfg.Docs.ArtifactDir, retriever.Config{
				TopK:     a.cfg.Retrieval.TopK,
				MinScore: a.cfg.Retrieval.MinScore,
			}, a.log)
			if err != nil {
				return err
			}
			hits, metrics, err := ret.Retrieve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d/%d hits in %dms (embed %dms, search %dms)\n",
				metrics.Returned, metrics.Candidates,
				metrics.TotalLatency.Milliseconds(),
				metrics.EmbedLatency.Milliseconds(),
				metrics.SearchLatency.Milliseconds())
			for i, h := range hits {
				page := ""
				if h.Meta.Page != nil {
					page = fmt.Sprintf(" page=%d", *h.Meta.Page)
				}
				fmt.Printf("[%d] score=%.4f doc_id=%s chunk_id=%d%s\n%s\n\n",
					i+1, h.Score, h.Meta.DocID, h.Meta.ChunkID, page, h.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "override the configured top_k")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "override the configured min_score")
	return cmd
}

func chatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive question answering",
		RunE: func(*cobra.Command, []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			prog := tea.NewProgram(tui.New(p), tea.WithAltScreen())
			_, err = prog.Run()
			return err
		},
	}
}

func (a *app) embedder() *embedding.Client {
	api := openai.NewClient(a.cfg.OpenAIAPIKey)
	return embedding.NewClient(api, embedding.Config{
		Model:           a.cfg.Embedding.Model,
		BatchSize:       a.cfg.Embedding.BatchSize,
		Timeout:         time.Duration(a.cfg.Embedding.TimeoutSecs) * time.Second,
		Retries:         a.cfg.Embedding.Retries,
		PriceInputPer1M: a.cfg.Embedding.PriceInputPer1M,
	}, a.log)
}

// pipeline assembles the full answering chain from the loaded artifacts.
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	if err := a.cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	ret, err := retriever.Open(a.embedder(), a.cfg.Docs.ArtifactDir, retriever.Config{
		TopK:     a.cfg.Retrieval.TopK,
		MinScore: a.cfg.Retrieval.MinScore,
	}, a.log)
	if err != nil {
		return nil, err
	}
	gen := generator.New(openai.NewClient(a.cfg.OpenAIAPIKey), generator.Config{
		Model:           a.cfg.LLM.Model,
		Temperature:     float32(a.cfg.LLM.Temperature),
		MaxOutputTokens: a.cfg.LLM.MaxOutputTokens,
		Timeout:         time.Duration(a.cfg.LLM.TimeoutSecs) * time.Second,
		Retries:         a.cfg.LLM.Retries,
	}, a.log)
	return pipeline.New(ret, gen, pipeline.Config{
		Decider: decider.Config{
			MinScore:       a.cfg.Retrieval.MinScore,
			MinHits:        a.cfg.Retrieval.MinHits,
			MaxContextHits: a.cfg.Retrieval.MaxContextHits,
		},
		TopN:                a.cfg.Retrieval.TopN,
		PriceLLMInputPer1M:  a.cfg.LLM.PriceInputPer1M,
		PriceLLMOutputPer1M: a.cfg.LLM.PriceOutputPer1M,
	}, a.log), nil
}
