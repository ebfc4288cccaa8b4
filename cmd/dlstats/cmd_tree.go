package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srault95/dlstats/internal/fetchers"
	"github.com/srault95/dlstats/internal/model"
)

var treeProvider string

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print a provider's category tree",
	RunE:  runTree,
}

func init() {
	treeCmd.Flags().StringVarP(&treeProvider, "provider", "p", "", "provider name (BIS, ECB, IMF)")
	_ = treeCmd.MarkFlagRequired("provider")
}

func runTree(cmd *cobra.Command, args []string) error {
	fetcher, err := fetchers.New(treeProvider, logger)
	if err != nil {
		return err
	}

	categories, err := fetcher.DataTree(cmd.Context())
	if err != nil {
		return err
	}
	sort.SliceStable(categories, func(i, j int) bool {
		if len(categories[i].AllParents) != len(categories[j].AllParents) {
			return len(categories[i].AllParents) < len(categories[j].AllParents)
		}
		return categories[i].Position < categories[j].Position
	})

	byParent := make(map[string][]model.Category)
	for _, category := range categories {
		byParent[category.Parent] = append(byParent[category.Parent], category)
	}

	var printLevel func(parent string, depth int)
	printLevel = func(parent string, depth int) {
		for _, category := range byParent[parent] {
			indent := strings.Repeat("  ", depth)
			fmt.Printf("%s%s [%s]\n", indent, category.Name, category.CategoryCode)
			for _, ref := range category.Datasets {
				fmt.Printf("%s  - %s: %s\n", indent, ref.DatasetCode, ref.Name)
			}
			printLevel(category.CategoryCode, depth+1)
		}
	}
	printLevel("", 0)
	return nil
}
