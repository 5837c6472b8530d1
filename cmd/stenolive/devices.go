package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/media"
)

// Devices command flags.
var (
	devicesWAVDir string
	devicesOutput string
)

func newDevicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Long: `List the audio devices stenolive can record from.

Host devices come from PortAudio. WAV files in --wav-dir are listed as
file devices and can be recorded as if they were live input.

Examples:
  stenolive devices
  stenolive devices --wav-dir ./fixtures -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, closeSource := newSource(devicesWAVDir, false)
			defer closeSource()

			devs, err := source.ListDevices()
			if err != nil {
				return err
			}
			if devicesOutput == "json" {
				return printJSON(devs)
			}
			if len(devs) == 0 {
				fmt.Println("No capture devices found.")
				return nil
			}
			for _, d := range devs {
				marker := " "
				if d.Default {
					marker = "*"
				}
				fmt.Printf("%s %-12s %-40s %s\n", marker, d.Kind, d.Label, d.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&devicesWAVDir, "wav-dir", "", "Directory of WAV files to list as devices")
	cmd.Flags().StringVarP(&devicesOutput, "output", "o", "", "Output format: text, json")
	return cmd
}

// newSource builds a media source over PortAudio and WAV files. PortAudio
// is skipped when the host library cannot start.
func newSource(wavDir string, realtime bool) (*media.Source, func()) {
	format := media.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	var backends []media.Backend
	closeFn := func() {}

	pa, err := media.NewPortAudioBackend()
	if err != nil {
		log.Warn("portaudio unavailable, only file devices will work", logging.Err(err))
	} else {
		backends = append(backends, pa)
		closeFn = func() { _ = pa.Terminate() }
	}
	backends = append(backends, media.NewWAVBackend(wavDir, realtime))
	return media.NewSource(format, log, backends...), closeFn
}
