// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package epoch

import (
	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/version"
)

// UpgradeCheckFunc returns the protocol version the next epoch runs, or zero
// to stay on the current one. [blocks] is the number of blocks of the closed
// epoch. The signal counts are cleared.
type UpgradeCheckFunc func(v *drive.View, b *drive.Batch, pv *version.PlatformVersion, blocks uint64) (version.ProtocolVersion, error)

var UpgradeCheckers = version.NewDispatcher[UpgradeCheckFunc]("epoch.upgrade")

func init() {
	UpgradeCheckers.Register(version.ProtocolUpgradeCheck, 0, checkUpgradeV0)
}

// checkUpgradeV0 accepts the highest newer version signalled by at least
// UpgradeThresholdPercent of the blocks.
func checkUpgradeV0(v *drive.View, b *drive.Batch, pv *version.PlatformVersion, blocks uint64) (version.ProtocolVersion, error) {
	counts, err := v.UpgradeCounts()
	if err != nil {
		return 0, err
	}
	var accepted version.ProtocolVersion
	for _, c := range counts {
		b.ClearUpgradeCount(c.Version)
		if blocks == 0 || version.ProtocolVersion(c.Version) <= pv.Protocol {
			continue
		}
		signalled, err := safemath.Mul64(c.Blocks, 100)
		if err != nil {
			return 0, err
		}
		required, err := safemath.Mul64(blocks, pv.Limits.UpgradeThresholdPercent)
		if err != nil {
			return 0, err
		}
		if signalled >= required && version.ProtocolVersion(c.Version) > accepted {
			accepted = version.ProtocolVersion(c.Version)
		}
	}
	return accepted, nil
}
