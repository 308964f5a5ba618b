package service

import (
	"errors"

	"gocv.io/x/gocv"
)

var ErrInvalidImage = errors.New("invalid image file")

// DecodeImage 将上传的字节解码为 BGR 三通道图像
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrInvalidImage
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		// IMDecode 返回空 Mat 表示解码失败
		mat.Close()
		return gocv.NewMat(), ErrInvalidImage
	}
	return mat, nil
}
