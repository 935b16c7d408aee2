package archive

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Cold-tier storage class transitions, in days from object creation.
const (
	glacierAfterDays     = 365
	deepArchiveAfterDays = 730
	expireAfterDays      = 2555
)

// EnsureLifecycle applies the cold bucket's tiering policy: Glacier after
// one year, Deep Archive after two, expiry at seven. Idempotent; the rule
// set replaces any previous configuration under the same ID.
func EnsureLifecycle(ctx context.Context, client *s3.Client, bucket, prefix string) error {
	_, err := client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{
				{
					ID:     aws.String("audit-cold-tiering"),
					Status: types.ExpirationStatusEnabled,
					Filter: &types.LifecycleRuleFilterMemberPrefix{
						Value: prefix + "/",
					},
					Transitions: []types.Transition{
						{
							Days:         aws.Int32(glacierAfterDays),
							StorageClass: types.TransitionStorageClassGlacier,
						},
						{
							Days:         aws.Int32(deepArchiveAfterDays),
							StorageClass: types.TransitionStorageClassDeepArchive,
						},
					},
					Expiration: &types.LifecycleExpiration{
						Days: aws.Int32(expireAfterDays),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("applying lifecycle configuration to %s: %w", bucket, err)
	}
	return nil
}
