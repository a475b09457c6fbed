package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/deckwatch/internal/cli/output"
	"github.com/marmos91/deckwatch/pkg/config"
	"github.com/marmos91/deckwatch/pkg/devices"
	"github.com/marmos91/deckwatch/pkg/runtime"
)

var (
	devicesWait   time.Duration
	devicesWatch  bool
	devicesOutput string
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices on the DJ Link network",
	Long: `Listen for device announcements and print every device heard.

Players announce themselves about once a second, so the default wait of
a few seconds finds everything that is online. With --watch, devices are
printed as they appear and disappear until interrupted.

Examples:
  deckwatch devices
  deckwatch devices --wait 10s --output json
  deckwatch devices --watch`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().DurationVar(&devicesWait, "wait", 3*time.Second, "How long to listen before printing")
	devicesCmd.Flags().BoolVarP(&devicesWatch, "watch", "w", false, "Print devices as they come and go")
	devicesCmd.Flags().StringVarP(&devicesOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

type deviceRow struct {
	Number    int       `json:"number" yaml:"number"`
	Name      string    `json:"name" yaml:"name"`
	Address   string    `json:"address" yaml:"address"`
	MAC       string    `json:"mac" yaml:"mac"`
	Mixer     bool      `json:"mixer" yaml:"mixer"`
	FirstSeen time.Time `json:"first_seen" yaml:"first_seen"`
}

type deviceList []deviceRow

func (l deviceList) Headers() []string {
	return []string{"#", "Name", "Address", "MAC", "Type", "Seen"}
}

func (l deviceList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, d := range l {
		kind := "player"
		if d.Mixer {
			kind = "mixer"
		}
		rows = append(rows, []string{
			strconv.Itoa(d.Number), d.Name, d.Address, d.MAC, kind, humanize.Time(d.FirstSeen),
		})
	}
	return rows
}

func newDeviceList(devs []devices.Device) deviceList {
	list := make(deviceList, 0, len(devs))
	for _, d := range devs {
		list = append(list, deviceRow{
			Number:    int(d.Number),
			Name:      d.Name,
			Address:   d.Address.String(),
			MAC:       d.MAC.String(),
			Mixer:     d.IsMixer(),
			FirstSeen: d.FirstSeen,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Number < list[j].Number })
	return list
}

// listenOnly strips everything the device listing does not need.
func listenOnly(cfg *config.Config) *config.Config {
	c := *cfg
	c.Finders.Enabled = nil
	c.Archives = config.ArchivesConfig{}
	return &c
}

func runDevices(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(devicesOutput)
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, listenOnly(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	out := cmd.OutOrStdout()
	if devicesWatch {
		rt.Registry().Found().Subscribe(func(d devices.Device) {
			_, _ = fmt.Fprintf(out, "+ %s\n", d.Announcement)
		})
		rt.Registry().Lost().Subscribe(func(d devices.Device) {
			_, _ = fmt.Fprintf(out, "- %s\n", d.Announcement)
		})
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}

	if devicesWatch {
		<-ctx.Done()
		return nil
	}

	select {
	case <-time.After(devicesWait):
	case <-ctx.Done():
	}
	list := newDeviceList(rt.Devices())
	rt.Stop()

	if format == output.FormatTable && len(list) == 0 {
		_, err := fmt.Fprintln(out, "No devices found.")
		return err
	}
	return output.Print(out, format, list)
}
