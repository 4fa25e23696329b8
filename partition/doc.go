// Package partition divides one raw memory into independently growable
// virtual memories with fixed identities.
//
// Page 0 of the raw memory holds the header:
//
//	offset  size   field
//	0       3      magic "SPM"
//	3       1      layout version
//	4       2      allocated bucket count (LE)
//	6       2      bucket size in pages (LE)
//	8       32     reserved
//	40      2040   255 x u64 partition size in pages (LE)
//	2080    32768  bucket table, one owner byte per bucket, 0xFF = free
//
// Bucket i starts at byte PageSize*(1+i*bucketPages). A partition grows by
// claiming the next free bucket; buckets are never shared and never given
// back, so a partition's n-th bucket is the n-th set bit of its bitmap.
package partition
