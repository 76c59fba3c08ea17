package main

import (
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/itiky/list-mirror/model"
	"github.com/itiky/list-mirror/storage"
)

const (
	FlagFilePath    = "file-path"
	FlagCollection  = "collection"
	FlagStorageSize = "storage-size"
	FlagBatches     = "batches"
	FlagOpsMax      = "ops-max"
	FlagPages       = "pages"
	FlagPageSize    = "page-size"
	FlagSeed        = "seed"
)

// GetGenerateCmd returns generate mock scenario command.
func GetGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate mock scenario",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			filePath, err := cmd.Flags().GetString(FlagFilePath)
			if err != nil {
				fatalf("%s flag: %v", FlagFilePath, err)
			}
			collection, err := cmd.Flags().GetString(FlagCollection)
			if err != nil {
				fatalf("%s flag: %v", FlagCollection, err)
			}
			storageSize, err := cmd.Flags().GetInt(FlagStorageSize)
			if err != nil {
				fatalf("%s flag: %v", FlagStorageSize, err)
			}
			batchesNum, err := cmd.Flags().GetInt(FlagBatches)
			if err != nil {
				fatalf("%s flag: %v", FlagBatches, err)
			}
			opsMax, err := cmd.Flags().GetInt(FlagOpsMax)
			if err != nil {
				fatalf("%s flag: %v", FlagOpsMax, err)
			}
			pagesNum, err := cmd.Flags().GetInt(FlagPages)
			if err != nil {
				fatalf("%s flag: %v", FlagPages, err)
			}
			pageSize, err := cmd.Flags().GetInt(FlagPageSize)
			if err != nil {
				fatalf("%s flag: %v", FlagPageSize, err)
			}
			seed, err := cmd.Flags().GetInt64(FlagSeed)
			if err != nil {
				fatalf("%s flag: %v", FlagSeed, err)
			}

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rnd := rand.New(rand.NewSource(seed))

			// Work
			batches, err := storage.GenBatches(rnd, batchesNum, opsMax, storageSize)
			if err != nil {
				fatalf("gen failed: %v", err)
			}

			scenario := Scenario{
				Collection: model.CollectionId(collection),
				Batches:    batches,
			}
			for i := 0; i < pagesNum; i++ {
				page := make([]model.ListItem, 0, pageSize)
				for j := 0; j < pageSize; j++ {
					page = append(page, storage.NewListItemMock(rnd))
				}
				scenario.Pages = append(scenario.Pages, page)
			}
			if expected := scenario.Expected(); len(expected) > 0 {
				item := expected[rnd.Intn(len(expected))]
				scenario.CurrentItem = &item
			}

			if err := SaveScenario(filePath, scenario); err != nil {
				fatalf("saving scenario: %v", err)
			}
			logger.Infof("Scenario (seed %d) saved: %s", seed, filePath)
		},
	}
	cmd.Flags().String(FlagFilePath, "./scenario.yaml", "(optional) output file path")
	cmd.Flags().String(FlagCollection, "spaces", "(optional) collection id")
	cmd.Flags().Int(FlagStorageSize, 100, "(optional) initial list size")
	cmd.Flags().Int(FlagBatches, 50, "(optional) number of batches (including the initial reset)")
	cmd.Flags().Int(FlagOpsMax, 5, "(optional) max number of operations per batch")
	cmd.Flags().Int(FlagPages, 3, "(optional) number of pages to load")
	cmd.Flags().Int(FlagPageSize, 20, "(optional) page size")
	cmd.Flags().Int64(FlagSeed, 0, "(optional) random seed, 0 for time based")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetGenerateCmd())
}
