package operations

func init() {
	register("multiply", func(a, b int64) (int64, error) {
		return a * b, nil
	})
}
