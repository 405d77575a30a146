package main

import (
	"encoding/json"
	"fmt"

	proc "github.com/nci/polydrill/processor"
	"github.com/nci/polydrill/utils"
	"github.com/nci/polydrill/worker/gdalprocess"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

var infoCmd = &cobra.Command{
	Use:   "info RASTER",
	Short: "Describe a raster as extract sees it",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().String("format", "yaml", "Output format, yaml or json.")
}

type bandInfo struct {
	Name   string   `yaml:"name" json:"name"`
	NoData *float64 `yaml:"nodata,omitempty" json:"nodata,omitempty"`
}

type rasterInfo struct {
	Path         string     `yaml:"path" json:"path"`
	Width        int        `yaml:"width" json:"width"`
	Height       int        `yaml:"height" json:"height"`
	DataType     string     `yaml:"data_type" json:"data_type"`
	GeoTransform []float64  `yaml:"geo_transform" json:"geo_transform"`
	Bounds       [4]float64 `yaml:"bounds" json:"bounds"`
	CRS          string     `yaml:"crs" json:"crs"`
	Bands        []bandInfo `yaml:"bands" json:"bands"`
}

func newRasterInfo(desc *proc.RasterDescriptor) *rasterInfo {
	info := &rasterInfo{
		Path:         desc.Path,
		Width:        desc.Width,
		Height:       desc.Height,
		DataType:     desc.DataType,
		GeoTransform: desc.GeoTransform[:],
		Bounds:       [4]float64{desc.Bounds.Min[0], desc.Bounds.Min[1], desc.Bounds.Max[0], desc.Bounds.Max[1]},
		CRS:          desc.CRS,
	}
	for ib, name := range desc.BandNames() {
		band := bandInfo{Name: name}
		if ib < len(desc.NoData) {
			band.NoData = desc.NoData[ib]
		}
		info.Bands = append(info.Bands, band)
	}
	return info
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if !isYAML(format) && format != "json" {
		return fmt.Errorf("unknown format '%s'", format)
	}

	utils.InitGdal(cfg.GDAL)
	desc, err := (&gdalprocess.RasterInfo{}).ReadRasterInfo(args[0])
	if err != nil {
		return err
	}

	var out []byte
	if isYAML(format) {
		out, err = yaml.Marshal(newRasterInfo(desc))
	} else {
		out, err = json.MarshalIndent(newRasterInfo(desc), "", "  ")
		out = append(out, '\n')
	}
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
