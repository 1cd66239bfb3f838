package dispatch

import (
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/vladiki/Lean/internal/common/logging"
	"github.com/vladiki/Lean/internal/common/resultserrors"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

// splitForLive returns packet unchanged if it fits the live channel, otherwise one packet per chart.
// Charts that do not fit on their own are dropped. If every chart is dropped a chart-less packet is returned
// so that progress and statistics still reach the live channel.
func (d *Dispatcher) splitForLive(ctx *runctx.Context, packet *model.ResultPacket) []*model.ResultPacket {
	limit := int(d.dispatcherConfig.MaxLivePacketBytes)
	size, err := packetSize(packet)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Error("Unable to serialise result packet; skipping update")
		return nil
	}
	if size <= limit {
		d.metrics.RecordLivePacket(size, packet.Results.PointCount())
		return []*model.ResultPacket{packet}
	}

	names := maps.Keys(packet.Results.Charts)
	slices.Sort(names)
	packets := make([]*model.ResultPacket, 0, len(names))
	for _, name := range names {
		chart := packet.Results.Charts[name]
		split := packet.WithCharts(map[string]*model.Chart{name: chart})
		split.PacketId = d.newPacketId()
		size, err := packetSize(split)
		if err != nil {
			logging.WithStacktrace(ctx.Log, err).Errorf("Unable to serialise chart %s; dropping it", name)
			continue
		}
		if size > limit {
			d.metrics.RecordOversizedChartDropped()
			tooLarge := &resultserrors.ErrPayloadTooLarge{What: "chart " + name, Size: size, Limit: limit}
			ctx.Log.WithField("points", chart.PointCount()).Warnf("Dropping chart update: %s", tooLarge)
			continue
		}
		d.metrics.RecordLivePacket(size, chart.PointCount())
		packets = append(packets, split)
	}
	if len(packets) == 0 {
		return []*model.ResultPacket{packet.WithCharts(map[string]*model.Chart{})}
	}
	return packets
}

func packetSize(packet *model.ResultPacket) (int, error) {
	b, err := json.Marshal(packet)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return len(b), nil
}
