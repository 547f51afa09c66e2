// Command stabledb is a small shell around a stabledb database image.
// It loads an image file into an in-memory region, runs statements or
// inspections against it, and writes the image back out.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/stabledb/stabledb/core/stable"
	"github.com/stabledb/stabledb/core/vmem"
)

const version = "0.1.0"

// CLI defines the command-line interface for stabledb.
var CLI struct {
	Debug bool `name:"debug" help:"Enable debug logging"`

	Exec     ExecCmd     `cmd:"" help:"Execute SQL statements against an image"`
	Info     InfoCmd     `cmd:"" help:"Show image pragmas and tables"`
	Checksum ChecksumCmd `cmd:"" help:"Print the BLAKE3 checksum of an image"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// ExecCmd runs one or more semicolon-separated SQL statements.
type ExecCmd struct {
	Image string   `arg:"" help:"Database image file; created if missing" type:"path"`
	SQL   []string `arg:"" help:"SQL statements to run"`
}

func (c *ExecCmd) Run(log *zap.Logger) error {
	ctx := context.Background()
	region, err := loadRegion(c.Image)
	if err != nil {
		return err
	}
	db, err := stable.NewBuilder(region).WithLogger(log).Build(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	conn, err := db.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, sql := range c.SQL {
		sql = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
		if sql == "" {
			continue
		}
		if err := runOne(ctx, conn, sql); err != nil {
			return err
		}
	}
	return saveRegion(c.Image, region)
}

// runOne executes a single statement, printing result rows if it
// produces any.
func runOne(ctx context.Context, conn *stable.Connection, sql string) error {
	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return err
	}
	n := 0
	for {
		row, err := rows.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		fields := make([]string, row.ColumnCount())
		for i := range fields {
			fields[i] = row.GetValue(i).String()
		}
		fmt.Println(strings.Join(fields, "|"))
		n++
	}
	if n == 0 {
		fmt.Printf("ok: %s\n", sql)
	}
	return nil
}

// InfoCmd prints the image's pragmas and table list.
type InfoCmd struct {
	Image string `arg:"" help:"Database image file" type:"path"`
}

func (c *InfoCmd) Run(log *zap.Logger) error {
	ctx := context.Background()
	region, err := loadRegion(c.Image)
	if err != nil {
		return err
	}
	db, err := stable.NewBuilder(region).WithLogger(log).Build(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	conn, err := db.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, name := range []string{"page_size", "page_count", "table_count"} {
		err := conn.PragmaQuery(ctx, name, func(row stable.Row) error {
			fmt.Printf("%s: %s\n", name, row.GetValue(0).String())
			return nil
		})
		if err != nil {
			return err
		}
	}
	fmt.Println("tables:")
	return conn.PragmaQuery(ctx, "table_list", func(row stable.Row) error {
		fmt.Printf("  %s (%d columns)\n", row.GetValue(0).Text(), row.GetValue(1).Int())
		return nil
	})
}

// ChecksumCmd prints the BLAKE3 checksum of the image's region,
// including the zero padding up to the unit boundary.
type ChecksumCmd struct {
	Image string `arg:"" help:"Database image file" type:"path"`
}

func (c *ChecksumCmd) Run() error {
	region, err := loadRegion(c.Image)
	if err != nil {
		return err
	}
	sum := region.Checksum()
	fmt.Printf("%s  %s\n", hex.EncodeToString(sum[:]), c.Image)
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("stabledb %s\n", version)
	return nil
}

// loadRegion reads an image file into a fresh region. A missing file
// yields an empty region.
func loadRegion(path string) (*vmem.Region, error) {
	image, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return vmem.NewRegion(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return vmem.RestoreRegion(image), nil
}

// saveRegion writes the region's full snapshot back to the image file.
func saveRegion(path string, region *vmem.Region) error {
	if err := os.WriteFile(path, region.Snapshot(), 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("stabledb"),
		kong.Description("stabledb - SQL over a growable in-memory image"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	log := zap.NewNop()
	if CLI.Debug {
		var err error
		log, err = zap.NewDevelopment()
		ctx.FatalIfErrorf(err)
		defer log.Sync()
	}
	err := ctx.Run(log)
	ctx.FatalIfErrorf(err)
}
