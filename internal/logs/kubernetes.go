package logs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	OrderName = "name"
	OrderAPI  = "api"
)

// NewClientset builds a clientset from a kubeconfig path, falling back to the
// in-cluster service account when the path is empty.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if strings.TrimSpace(kubeconfig) != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
		if err != nil {
			cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
				clientcmd.NewDefaultClientConfigLoadingRules(),
				&clientcmd.ConfigOverrides{},
			).ClientConfig()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return clientset, nil
}

// KubernetesSource reads the logs of every pod in a namespace. When Client is
// nil it is built from Kubeconfig on the first Collect.
type KubernetesSource struct {
	Client        kubernetes.Interface
	Kubeconfig    string
	Namespace     string
	LabelSelector string
	Container     string
	TailLines     int64
	// Order is OrderName (sorted pod names) or OrderAPI (list order).
	Order      string
	LogTimeout time.Duration
	Logger     *slog.Logger
}

func (k *KubernetesSource) Collect(ctx context.Context) ([]Stream, error) {
	logger := k.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if k.Client == nil {
		client, err := NewClientset(k.Kubeconfig)
		if err != nil {
			return nil, &LogAccessError{Source: "cluster", Err: err}
		}
		k.Client = client
	}

	pods, err := k.Client.CoreV1().Pods(k.Namespace).List(ctx, metav1.ListOptions{LabelSelector: k.LabelSelector})
	if err != nil {
		return nil, &LogAccessError{Source: "namespace " + k.Namespace, Err: err}
	}

	items := pods.Items
	if k.Order != OrderAPI {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	}

	streams := make([]Stream, 0, len(items))
	for _, pod := range items {
		text, err := k.podLogs(ctx, pod.Name)
		if err != nil {
			logger.Warn("pod log read failed", "namespace", k.Namespace, "pod", pod.Name, "error", err)
			streams = append(streams, Stream{Name: pod.Name, Err: &LogAccessError{Source: pod.Name, Err: err}})
			continue
		}
		streams = append(streams, Stream{Name: pod.Name, Text: text})
	}
	logger.Debug("collected pod logs", "namespace", k.Namespace, "pods", len(streams))
	return streams, nil
}

func (k *KubernetesSource) podLogs(ctx context.Context, pod string) (string, error) {
	if k.LogTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.LogTimeout)
		defer cancel()
	}

	opts := &corev1.PodLogOptions{Container: k.Container}
	if k.TailLines > 0 {
		tail := k.TailLines
		opts.TailLines = &tail
	}
	stream, err := k.Client.CoreV1().Pods(k.Namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, stream); err != nil {
		return "", err
	}
	return buf.String(), nil
}
