// Command engram-demo walks through the memory system scenario by
// scenario: salience-driven consolidation, emotion boosts, repetition,
// activation-ranked retrieval, emotional retrieval, somatic markers, and
// system statistics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindsim/engram/pkg/consolidation"
	"github.com/mindsim/engram/pkg/engram"
	"github.com/mindsim/engram/pkg/events"
	"github.com/mindsim/engram/pkg/ltm"
)

var (
	snapshotPath string
	sqlitePath   string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "engram-demo",
	Short: "Demonstrates long-term memory consolidation and retrieval",
	Long: `Walks through the memory system scenario by scenario: consolidation
by salience, emotion and repetition, activation-ranked retrieval,
emotional retrieval, somatic marker integration, and statistics.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every scenario in sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, c := range []*cobra.Command{
			consolidateCmd, emotionCmd, repetitionCmd,
			activationCmd, retrievalCmd, somaticCmd, statsCmd,
		} {
			if err := c.RunE(c, nil); err != nil {
				return err
			}
		}
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Consolidation by salience",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("CONSOLIDATION BY SALIENCE")

		sys, err := newSystem()
		if err != nil {
			return err
		}
		defer sys.Close(context.Background())

		c := sys.Consolidator()
		c.AddToPending("Discovered enemy base at coordinates (45, 78)", 0.8, &consolidation.PendingOptions{ContextHash: "exploration_001"})
		c.AddToPending("Saw a random rock on the path", 0.2, &consolidation.PendingOptions{ContextHash: "exploration_001"})
		c.AddToPending("Found a health potion in chest", 0.5, &consolidation.PendingOptions{ContextHash: "exploration_001"})

		fmt.Printf("  Pending items: %d (threshold %.2f)\n", c.PendingCount(), consolidation.DefaultThreshold)

		result := c.RunCycle()
		fmt.Printf("  Consolidated: %d, rejected: %d\n\n", result.Consolidated, result.Rejected)

		printAll(sys.Store())
		return nil
	},
}

var emotionCmd = &cobra.Command{
	Use:   "emotion",
	Short: "Emotion-boosted consolidation",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("EMOTION-BOOSTED CONSOLIDATION")

		store := ltm.NewStore(ltm.Config{})
		c := consolidation.New(store, consolidation.Config{
			Threshold:    0.55,
			EmotionBoost: 0.3,
		})

		c.AddToPending("Almost fell into a trap", 0.4, &consolidation.PendingOptions{
			EmotionState: &consolidation.EmotionState{Valence: -0.8, Arousal: 0.9, Emotion: "fear"},
			MemoryType:   ltm.Emotional,
		})
		c.AddToPending("Walked past a tree", 0.4, &consolidation.PendingOptions{
			EmotionState: &consolidation.EmotionState{Valence: 0.0, Arousal: 0.1, Emotion: "neutral"},
		})
		c.AddToPending("Made a new friend NPC", 0.4, &consolidation.PendingOptions{
			EmotionState: &consolidation.EmotionState{Valence: 0.7, Arousal: 0.7, Emotion: "joy"},
			MemoryType:   ltm.Emotional,
		})

		fmt.Println("  All items at salience 0.40, threshold 0.55:")
		fmt.Println("    fear:    0.40 + 0.3*0.8*0.9 = 0.616")
		fmt.Println("    neutral: 0.40 + 0.3*0.0*0.5 = 0.400")
		fmt.Println("    joy:     0.40 + 0.3*0.7*0.7 = 0.547")

		result := c.RunCycle()
		fmt.Printf("\n  Consolidated: %d, rejected: %d\n\n", result.Consolidated, result.Rejected)

		printAll(store)
		return nil
	},
}

var repetitionCmd = &cobra.Command{
	Use:   "repetition",
	Short: "Consolidation through repeated access",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("CONSOLIDATION THROUGH REPETITION")

		store := ltm.NewStore(ltm.Config{})
		c := consolidation.New(store, consolidation.Config{})

		c.AddToPending("The merchant is at the town square", 0.5, &consolidation.PendingOptions{
			AccessCount: 5,
			MemoryType:  ltm.Semantic,
		})
		c.AddToPending("There was a bird on the roof", 0.5, &consolidation.PendingOptions{
			AccessCount: 1,
		})

		fmt.Println("  merchant: salience 0.5, accessed 5x, score 0.60")
		fmt.Println("  bird:     salience 0.5, accessed 1x, score 0.50")

		result := c.RunCycle()
		fmt.Printf("\n  Consolidated: %d, rejected: %d\n\n", result.Consolidated, result.Rejected)

		printAll(store)
		return nil
	},
}

var activationCmd = &cobra.Command{
	Use:   "activation",
	Short: "Activation-ranked retrieval",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("ACTIVATION-RANKED RETRIEVAL")

		fmt.Println("  Base-level activation: B = ln(sum((now - t_j)^-d))")
		fmt.Println("  Recent and frequently accessed memories rank higher.")

		store := ltm.NewStore(ltm.Config{})

		old := store.Store("An old adventure from long ago", ltm.Episodic, &ltm.StoreOptions{Salience: 0.7})
		store.BackdateAccess(old.MemoryID, []time.Duration{time.Hour, 2 * time.Hour})

		store.Store("Something that just happened", ltm.Episodic, &ltm.StoreOptions{Salience: 0.7})

		frequent := store.Store("Important location I visit often", ltm.Semantic, &ltm.StoreOptions{Salience: 0.6})
		store.BackdateAccess(frequent.MemoryID, []time.Duration{
			time.Minute, 2 * time.Minute, 3 * time.Minute, 4 * time.Minute, 5 * time.Minute,
		})

		fmt.Println("\n  Ranking:")
		for i, m := range store.Retrieve(ltm.Query{Limit: 10, SkipAccessUpdate: true}) {
			fmt.Printf("  %d. activation=%+.3f  %s\n", i+1, m.TotalActivation(), contentString(m))
		}
		fmt.Println()
		return nil
	},
}

var retrievalCmd = &cobra.Command{
	Use:   "retrieval",
	Short: "Emotion-based retrieval",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("EMOTION-BASED RETRIEVAL")

		store := ltm.NewStore(ltm.Config{})
		seed := []struct {
			content string
			mtype   ltm.MemoryType
			tag     ltm.EmotionTag
		}{
			{"Victory celebration after winning the battle", ltm.Emotional, ltm.EmotionTag{Valence: 0.9, Arousal: 0.8, EmotionLabel: "joy", Intensity: 0.72}},
			{"Lost a valuable item to a thief", ltm.Emotional, ltm.EmotionTag{Valence: -0.7, Arousal: 0.6, EmotionLabel: "sadness", Intensity: 0.42}},
			{"Scary encounter with a monster", ltm.Emotional, ltm.EmotionTag{Valence: -0.8, Arousal: 0.9, EmotionLabel: "fear", Intensity: 0.72}},
			{"Regular day, nothing special", ltm.Episodic, ltm.EmotionTag{Valence: 0.1, Arousal: 0.2, EmotionLabel: "neutral", Intensity: 0.02}},
			{"Peaceful moment by the lake", ltm.Emotional, ltm.EmotionTag{Valence: 0.5, Arousal: 0.2, EmotionLabel: "calm", Intensity: 0.1}},
		}
		for _, s := range seed {
			tag := s.tag
			store.Store(s.content, s.mtype, &ltm.StoreOptions{EmotionTag: &tag})
		}

		fmt.Println("  Positive memories (valence >= 0.4):")
		for _, m := range store.RetrieveEmotional(0.4, true, 10) {
			fmt.Printf("    [%s] %s\n", m.EmotionTag.EmotionLabel, contentString(m))
		}

		fmt.Println("\n  Negative memories (valence <= -0.5):")
		for _, m := range store.RetrieveEmotional(0.5, false, 10) {
			fmt.Printf("    [%s] %s\n", m.EmotionTag.EmotionLabel, contentString(m))
		}

		fmt.Println("\n  Mood-congruent recall (valence around -0.6):")
		for _, m := range store.RetrieveByEmotion(-0.6, 0.3, 10) {
			fmt.Printf("    [%+.1f] %s\n", m.EmotionTag.Valence, contentString(m))
		}
		fmt.Println()
		return nil
	},
}

var somaticCmd = &cobra.Command{
	Use:   "somatic",
	Short: "Somatic marker integration over the event bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("SOMATIC MARKER INTEGRATION")

		sys, err := newSystem()
		if err != nil {
			return err
		}
		defer sys.Close(context.Background())

		markers := []struct {
			action   string
			valence  float64
			outcome  string
			strength float64
		}{
			{"APPROACH_DARK_CAVE", -0.8, "ambushed", 0.7},
			{"EXPLORE_FOREST", 0.6, "found_treasure", 0.8},
			{"TALK_TO_STRANGER", -0.3, "scammed", 0.5},
		}
		for _, m := range markers {
			sys.Bus().Publish(events.TopicSomaticMarker, map[string]any{
				"action":           m.action,
				"situation_hash":   strings.ToLower(m.action),
				"valence":          m.valence,
				"strength":         m.strength,
				"original_outcome": m.outcome,
			})
			fmt.Printf("  %s: %s (v=%+.1f)\n", m.action, m.outcome, m.valence)
		}

		result := sys.Consolidator().RunCycle()
		fmt.Printf("\n  Markers transferred to long-term memory: %d\n\n", result.Consolidated)

		for _, m := range sys.Store().Retrieve(ltm.Query{MemoryType: ltm.Emotional, Limit: 10, SkipAccessUpdate: true}) {
			content, _ := m.Content.(map[string]any)
			fmt.Printf("    [%+.1f] %v -> %v\n", m.EmotionTag.Valence, content["action"], content["original_outcome"])
		}
		fmt.Println()
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "System statistics after simulated cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("SYSTEM STATISTICS")

		store := ltm.NewStore(ltm.Config{})
		c := consolidation.New(store, consolidation.Config{})

		for i := 0; i < 3; i++ {
			for j := 0; j < 5; j++ {
				mtype := ltm.Episodic
				if j%2 == 1 {
					mtype = ltm.Semantic
				}
				c.AddToPending(fmt.Sprintf("Memory %d", i*5+j), 0.3+float64(j)*0.15, &consolidation.PendingOptions{
					EmotionState: &consolidation.EmotionState{
						Valence: float64(j-2) * 0.3,
						Arousal: 0.5,
						Emotion: "mixed",
					},
					MemoryType: mtype,
				})
			}
			c.RunCycle()
		}

		stats := c.Stats()
		fmt.Printf("  Cycles:            %d\n", stats.Cycles)
		fmt.Printf("  Consolidated:      %d\n", stats.ItemsConsolidated)
		fmt.Printf("  Rejected:          %d\n", stats.ItemsRejected)
		fmt.Printf("  Rate:              %.1f%%\n", stats.ConsolidationRate*100)
		fmt.Printf("  Total memories:    %d\n", stats.LTM.TotalMemories)
		fmt.Printf("  Episodic:          %d\n", stats.LTM.EpisodicCount)
		fmt.Printf("  Semantic:          %d\n", stats.LTM.SemanticCount)
		fmt.Printf("  Emotional:         %d\n", stats.LTM.EmotionalCount)
		fmt.Printf("  Stores:            %d\n\n", stats.LTM.TotalStores)
		return nil
	},
}

func newSystem() (*engram.Engram, error) {
	cfg := engram.Config{SnapshotPath: snapshotPath}
	if sqlitePath != "" {
		sink, err := ltm.NewSQLiteSnapshotStore(sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite snapshot store: %w", err)
		}
		cfg.Snapshots = sink
	}
	return engram.New(cfg)
}

func printHeader(text string) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Printf("  %s\n", text)
	fmt.Println(strings.Repeat("=", 60))
}

func printAll(store *ltm.Store) {
	for _, m := range store.Retrieve(ltm.Query{Limit: 50, SkipAccessUpdate: true}) {
		emotion := ""
		if m.EmotionTag != nil && m.EmotionTag.EmotionLabel != "" {
			emotion = fmt.Sprintf(" | %s (v=%+.2f)", m.EmotionTag.EmotionLabel, m.EmotionTag.Valence)
		}
		fmt.Printf("  %s: %s\n", m.MemoryID[:8], contentString(m))
		fmt.Printf("    type: %s | activation: %.3f%s\n", m.MemoryType, m.TotalActivation(), emotion)
	}
}

func contentString(m *ltm.ConsolidatedMemory) string {
	s := fmt.Sprintf("%v", m.Content)
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}

func main() {
	rootCmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "JSON snapshot file for persistence")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "SQLite database for persistence (overrides --snapshot)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(allCmd, consolidateCmd, emotionCmd, repetitionCmd,
		activationCmd, retrievalCmd, somaticCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
