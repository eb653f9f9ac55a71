package operations

func init() {
	register("sum", func(a, b int64) (int64, error) {
		return a + b, nil
	})
}
