package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/nace/volcrypt/internal/disk"
	"github.com/nace/volcrypt/internal/system"
	"golang.org/x/sync/errgroup"
)

// maxUsageQueries bounds concurrent df invocations.
const maxUsageQueries = 4

// fillUsage runs `df -P -k` for every entry's mount point and stores the
// available bytes. The first failure cancels the rest and is returned.
func fillUsage(ctx context.Context, runner system.Runner, disks []disk.Disk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxUsageQueries)

	for i := range disks {
		mp := disks[i].MountPoint
		if mp == "" {
			continue
		}
		g.Go(func() error {
			out, err := runner.Output(ctx, "df", "-P", "-k", mp)
			if err != nil {
				return fmt.Errorf("df %s: %w", mp, err)
			}
			u, err := system.ParseDF(out)
			if err != nil {
				return fmt.Errorf("df %s: %w", mp, err)
			}
			disks[i].FreeSpace = u.Available
			if disks[i].Size == 0 {
				disks[i].Size = u.Size
			}
			return nil
		})
	}
	return g.Wait()
}

func encryptionFromFilesystem(fs string) disk.EncryptionStatus {
	switch strings.ToLower(strings.TrimSpace(fs)) {
	case "", "raw", "unknown":
		return disk.Unknown
	case "crypto_luks", "veracrypt", "truecrypt", "apple_corestorage", "bitlocker":
		return disk.Encrypted
	default:
		return disk.Unencrypted
	}
}
